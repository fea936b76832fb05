package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result is a resolved transaction.
type Result struct {
	Target   string
	Outcome  string
	ExitCode int
	Started  time.Time
	Finished time.Time
}

// Reporter records results and writes them to a textfile.
type Reporter interface {
	Report(res Result) error
}

// Nop discards results.
type Nop struct{}

func (Nop) Report(Result) error { return nil }

// Textfile writes one .prom file per target next to the configured path:
// tether.prom becomes tether-iptables-ipv4.prom. The controller and the
// watchdog are separate processes and each only knows its own transaction,
// so a shared file would lose the other targets' series. Files are replaced
// atomically, so the collector never reads a partial one.
type Textfile struct {
	mu      sync.Mutex
	path    string
	version string
}

// NewTextfile returns a Reporter writing next to path.
func NewTextfile(path, version string) *Textfile {
	return &Textfile{path: path, version: version}
}

// PathFor returns the file holding target's series.
func (t *Textfile) PathFor(target string) string {
	ext := filepath.Ext(t.path)
	if ext == "" {
		ext = ".prom"
	}
	base := strings.TrimSuffix(t.path, filepath.Ext(t.path))
	return base + "-" + sanitize(target) + ext
}

// Report rewrites the file for res.Target with res as its latest result.
func (t *Textfile) Report(res Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg := NewRegistry(t.version)
	reg.Observe(res)

	path := t.PathFor(res.Target)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg.Gatherer()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func sanitize(target string) string {
	if target == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, target)
}

// Observe sets the gauges for a result.
func (r *Registry) Observe(res Result) {
	for _, o := range Outcomes {
		v := 0.0
		if o == res.Outcome {
			v = 1
		}
		r.LastOutcome.WithLabelValues(res.Target, o).Set(v)
	}
	if !res.Finished.IsZero() {
		r.LastTimestamp.WithLabelValues(res.Target).Set(float64(res.Finished.Unix()))
	}
	if !res.Started.IsZero() && !res.Finished.IsZero() {
		r.LastDuration.WithLabelValues(res.Target).Set(res.Finished.Sub(res.Started).Seconds())
	}
	r.LastExitCode.WithLabelValues(res.Target).Set(float64(res.ExitCode))
	r.Info.WithLabelValues(r.version, res.Target).Set(1)
}
