package apply

import "errors"

// Process exit codes. This is the only place they are assigned.
const (
	ExitOK                 = 0
	ExitArgument           = 1
	ExitFileAccess         = 2
	ExitBackendUnavailable = 3
	ExitSnapshot           = 4
	ExitApply              = 5
	ExitLockConflict       = 6
	ExitDependencyMissing  = 127
	// ExitNotKept: the new ruleset is not (or will not stay) in effect.
	ExitNotKept = 255
)

// ExitCode maps a transaction's result and error to a process exit code.
// Errors that are not an *Error (flag parsing, config) are argument errors.
func ExitCode(res *Result, err error) int {
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ExitArgument
		}
		switch e.Kind {
		case KindArgument:
			return ExitArgument
		case KindFileAccess:
			return ExitFileAccess
		case KindBackendUnavailable:
			return ExitBackendUnavailable
		case KindSnapshot:
			return ExitSnapshot
		case KindLockConflict:
			return ExitLockConflict
		case KindDependencyMissing:
			return ExitDependencyMissing
		case KindApply:
			if e.Phase == PhaseApply || e.Phase == PhaseArm {
				return ExitApply
			}
			return ExitNotKept
		case KindConfirmationTimeout:
			return ExitNotKept
		}
		return ExitArgument
	}

	if res == nil {
		return ExitOK
	}
	switch res.Outcome {
	case Declined, TimedOut, LateConfirm, RestoreFailed:
		return ExitNotKept
	case ApplyFailed:
		return ExitApply
	}
	return ExitOK
}
