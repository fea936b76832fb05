package apply

import "fmt"

// Outcome is how a transaction resolved.
type Outcome int

const (
	// Aborted: the transaction ended before the ruleset was applied.
	Aborted Outcome = iota
	// Confirmed: the operator kept the new ruleset.
	Confirmed
	// Declined: the operator (or a failed probe) rejected the change and
	// the previous ruleset was restored.
	Declined
	// TimedOut: no answer in time; the watchdog restores.
	TimedOut
	// LateConfirm: the answer arrived after the watchdog fired.
	LateConfirm
	// ApplyFailed: loading the new ruleset failed; the watchdog restores.
	ApplyFailed
	// RestoreFailed: the decline-restore failed; the watchdog restores.
	RestoreFailed
)

func (o Outcome) String() string {
	switch o {
	case Aborted:
		return "aborted"
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	case TimedOut:
		return "timed_out"
	case LateConfirm:
		return "late_confirm"
	case ApplyFailed:
		return "apply_failed"
	case RestoreFailed:
		return "restore_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Kept reports whether the new ruleset is in effect after resolution.
func (o Outcome) Kept() bool {
	return o == Confirmed
}

// Reasons a transaction was reverted without a "yes".
const (
	ReasonOperator    = "operator"
	ReasonProbeFailed = "probe-failed"
	ReasonDeadline    = "deadline"
)

// Result describes a finished transaction.
type Result struct {
	TxID        string   `json:"tx_id" yaml:"tx_id"`
	Target      string   `json:"target" yaml:"target"`
	Ruleset     string   `json:"ruleset" yaml:"ruleset"`
	Outcome     Outcome  `json:"-" yaml:"-"`
	Reason      string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Snapshot    string   `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	WatchdogPID int      `json:"watchdog_pid,omitempty" yaml:"watchdog_pid,omitempty"`
	Paused      []string `json:"paused,omitempty" yaml:"paused,omitempty"`
	Wrote       string   `json:"wrote,omitempty" yaml:"wrote,omitempty"`
}
