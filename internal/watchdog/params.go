package watchdog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/snapshot"
)

// Params is everything the watchdog needs, fixed at spawn time. It crosses
// the process boundary as one JSON document in an environment variable, so
// nothing is reinterpreted from a command line.
type Params struct {
	TxID      string             `json:"tx_id"`
	Directive firewall.Directive `json:"directive"`
	Timeout   time.Duration      `json:"timeout"`
	Started   time.Time          `json:"started"`
	Deadline  time.Time          `json:"deadline"`
	Snapshot  snapshot.Handle    `json:"snapshot"`

	// LockDir is where the transaction's lock marker lives. The marker
	// also tells the watchdog which services to resume after a restore.
	LockDir string `json:"lock_dir"`

	JournalPath      string `json:"journal_path,omitempty"`
	JournalRetention int    `json:"journal_retention,omitempty"`
	MetricsTextfile  string `json:"metrics_textfile,omitempty"`
	LogLevel         string `json:"log_level,omitempty"`
	LogJSON          bool   `json:"log_json,omitempty"`
}

// Target is the lock target the transaction protects.
func (p Params) Target() string {
	if p.Snapshot.Target != "" {
		return p.Snapshot.Target
	}
	return p.Directive.String()
}

// Validate rejects a record the watchdog cannot act on.
func (p Params) Validate() error {
	var errs []error
	if p.TxID == "" {
		errs = append(errs, errors.New("missing transaction id"))
	}
	if p.Directive.Backend == "" {
		errs = append(errs, errors.New("missing restore directive"))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %s", p.Timeout))
	}
	if p.Snapshot.Path == "" {
		errs = append(errs, errors.New("missing snapshot path"))
	}
	if p.LockDir == "" {
		errs = append(errs, errors.New("missing lock directory"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid watchdog parameters: %w", errors.Join(errs...))
	}
	return nil
}

// Encode serializes p for the child's environment.
func (p Params) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeParams parses and validates an encoded record.
func DecodeParams(s string) (Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Params{}, fmt.Errorf("decode watchdog parameters: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
