package apply

import (
	"errors"
	"fmt"
)

// Kind classifies a transaction failure.
type Kind int

const (
	KindArgument Kind = iota + 1
	KindFileAccess
	KindDependencyMissing
	KindBackendUnavailable
	KindSnapshot
	KindLockConflict
	KindApply
	KindConfirmationTimeout
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "ArgumentError"
	case KindFileAccess:
		return "FileAccessError"
	case KindDependencyMissing:
		return "DependencyMissing"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindSnapshot:
		return "SnapshotError"
	case KindLockConflict:
		return "LockConflict"
	case KindApply:
		return "ApplyError"
	case KindConfirmationTimeout:
		return "ConfirmationTimeout"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Phase says where an ApplyError happened.
type Phase string

const (
	// PhaseArm: the watchdog could not be started. Nothing was mutated and
	// the snapshot and lock were cleaned up.
	PhaseArm Phase = "arm"
	// PhaseApply: loading the new ruleset failed. The watchdog stays armed.
	PhaseApply Phase = "apply"
	// PhaseRestore: the immediate restore after a decline failed. The
	// watchdog stays armed.
	PhaseRestore Phase = "restore"
	// PhaseStop: the watchdog could not be stopped after a confirmation, so
	// whether it restored is unknown. Nothing was cleaned up.
	PhaseStop Phase = "stop"
)

// Error is the error type returned by Controller.Run.
type Error struct {
	Kind  Kind
	Phase Phase
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Phase != "" {
		msg += " (" + string(e.Phase) + ")"
	}
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PostMutation reports whether the host may already run the new ruleset.
// Such failures leave the watchdog in charge and need an operator's
// attention.
func (e *Error) PostMutation() bool {
	return e.Kind == KindApply && e.Phase != PhaseArm
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
