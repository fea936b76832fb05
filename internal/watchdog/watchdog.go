// Package watchdog implements the rollback actor: a process that sleeps
// for the transaction timeout and then restores the snapshot, unless it
// is stopped first.
//
// Once the timer has fired the watchdog ignores further stop requests and
// runs the restore to completion. Its exit status tells whoever stopped it
// whether a restore happened.
package watchdog

import (
	"context"
	"fmt"

	"grimm.is/tether/internal/audit"
	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/service"
	"grimm.is/tether/internal/snapshot"
)

// Process exit codes.
const (
	ExitCancelled     = 0
	ExitRestored      = 10
	ExitRestoreFailed = 11
	ExitBadParams     = 12
)

// Outcome is how a watchdog run ended.
type Outcome int

const (
	// Cancelled: stopped before the timer fired; nothing was restored.
	Cancelled Outcome = iota
	// Restored: the timer fired and the snapshot was restored.
	Restored
	// RestoreFailed: the timer fired and the restore failed. Lock and
	// snapshot are left in place.
	RestoreFailed
)

func (o Outcome) String() string {
	switch o {
	case Cancelled:
		return "cancelled"
	case Restored:
		return "restored"
	case RestoreFailed:
		return "restore-failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Fired reports whether the timer fired.
func (o Outcome) Fired() bool {
	return o == Restored || o == RestoreFailed
}

// ExitCode maps the outcome to the watchdog process exit status.
func (o Outcome) ExitCode() int {
	switch o {
	case Restored:
		return ExitRestored
	case RestoreFailed:
		return ExitRestoreFailed
	}
	return ExitCancelled
}

// OutcomeFromExitCode is the inverse of ExitCode.
func OutcomeFromExitCode(code int) (Outcome, error) {
	switch code {
	case ExitCancelled:
		return Cancelled, nil
	case ExitRestored:
		return Restored, nil
	case ExitRestoreFailed:
		return RestoreFailed, nil
	}
	return 0, fmt.Errorf("watchdog exited with unexpected status %d", code)
}

// Deps are the collaborators a watchdog acts through.
type Deps struct {
	Backend  firewall.Backend
	Locks    *lock.Manager
	Services service.Pauser
	Journal  audit.Recorder
	Metrics  metrics.Reporter
	Clock    clock.Clock
	Logger   *logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Services == nil {
		d.Services = service.Nop{}
	}
	if d.Journal == nil {
		d.Journal = audit.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	d.Clock = clock.Or(d.Clock)
	d.Logger = logging.Or(d.Logger)
	return d
}

// Watchdog is one armed rollback actor.
type Watchdog struct {
	params Params
	deps   Deps
	logger *logging.Logger
}

// New returns a watchdog for params.
func New(params Params, deps Deps) *Watchdog {
	deps = deps.withDefaults()
	if deps.Locks == nil {
		deps.Locks = lock.NewManager(params.LockDir, deps.Clock)
	}
	return &Watchdog{
		params: params,
		deps:   deps,
		logger: deps.Logger.WithComponent("watchdog").WithTx(params.TxID),
	}
}

// Run sleeps for the timeout and restores unless ctx is cancelled first.
// Cancellation after the timer fires has no effect.
func (w *Watchdog) Run(ctx context.Context) (Outcome, error) {
	w.logger.Info("armed", "target", w.params.Target(), "timeout", w.params.Timeout, "snapshot", w.params.Snapshot.Path)

	select {
	case <-ctx.Done():
		w.logger.Info("stopped before deadline, not restoring")
		w.record(context.WithoutCancel(ctx), audit.ActionWatchdogCancelled, nil)
		return Cancelled, nil
	case <-w.deps.Clock.After(w.params.Timeout):
	}

	return w.fire(context.WithoutCancel(ctx))
}

func (w *Watchdog) fire(ctx context.Context) (Outcome, error) {
	w.logger.Warn("confirmation deadline passed, restoring snapshot", "target", w.params.Target())

	data, err := snapshot.Load(w.params.Snapshot)
	if err == nil {
		err = w.deps.Backend.Restore(ctx, data)
	}
	if err != nil {
		w.logger.Error("restore failed, lock and snapshot left for manual recovery",
			"error", err, "lock", w.deps.Locks.Path(w.params.Target()), "snapshot", w.params.Snapshot.Path)
		w.record(ctx, audit.ActionWatchdogRestoreFailed, map[string]any{"error": err.Error()})
		w.report("watchdog_restore_failed", ExitRestoreFailed)
		return RestoreFailed, fmt.Errorf("restore %s: %w", w.params.Target(), err)
	}

	w.logger.Info("previous ruleset restored", "target", w.params.Target())

	// The controller records the services it paused in the marker after
	// the watchdog was spawned.
	var paused []string
	if info, err := w.deps.Locks.Peek(w.params.Target()); err == nil && info != nil && info.TxID == w.params.TxID {
		paused = info.Paused
	}

	if err := snapshot.Discard(w.params.Snapshot); err != nil {
		w.logger.Warn("failed to delete snapshot", "error", err)
	}
	if err := w.deps.Locks.Release(w.params.Target(), w.params.TxID); err != nil {
		w.logger.Warn("failed to release lock", "error", err)
	}
	w.deps.Services.Resume(ctx, paused)

	w.record(ctx, audit.ActionWatchdogRestored, nil)
	w.report("watchdog_restored", ExitRestored)
	return Restored, nil
}

func (w *Watchdog) record(ctx context.Context, action string, details map[string]any) {
	err := w.deps.Journal.Record(ctx, audit.Event{
		TxID:    w.params.TxID,
		Target:  w.params.Target(),
		Actor:   audit.ActorWatchdog,
		Action:  action,
		Details: details,
	})
	if err != nil {
		w.logger.Warn("journal write failed", "action", action, "error", err)
	}
}

func (w *Watchdog) report(outcome string, code int) {
	err := w.deps.Metrics.Report(metrics.Result{
		Target:   w.params.Target(),
		Outcome:  outcome,
		ExitCode: code,
		Started:  w.params.Started,
		Finished: w.deps.Clock.Now(),
	})
	if err != nil {
		w.logger.Warn("metrics write failed", "error", err)
	}
}
