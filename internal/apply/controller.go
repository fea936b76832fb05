// Package apply runs a safe ruleset transaction: snapshot the current
// ruleset, arm a watchdog that restores it, apply the new ruleset, and keep
// it only if the operator confirms in time.
package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	"grimm.is/tether/internal/audit"
	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/confirm"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/i18n"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/probe"
	"grimm.is/tether/internal/service"
	"grimm.is/tether/internal/snapshot"
	"grimm.is/tether/internal/watchdog"
)

// DefaultStopTimeout bounds the wait for a watchdog to exit after a stop
// request. A watchdog that already fired finishes its restore first.
const DefaultStopTimeout = 2 * time.Minute

// Request describes one transaction.
type Request struct {
	// Ruleset is the new ruleset file. Empty means the backend's default.
	Ruleset   string
	Directive firewall.Directive
	Timeout   time.Duration
	// WriteTo receives the applied ruleset after a confirmation.
	WriteTo      string
	ProbeTargets []string
}

// Prompter solicits the operator's answer.
type Prompter interface {
	Ask(ctx context.Context, timeout time.Duration) confirm.Answer
}

// Options wires a Controller. Locks, Snapshots, Spawner and Prompter are
// required.
type Options struct {
	Runner     firewall.CommandRunner
	NewBackend func(firewall.Directive) (firewall.Backend, error)

	Locks     *lock.Manager
	Snapshots *snapshot.Capturer
	Spawner   watchdog.Spawner
	// WatchdogTemplate carries the ambient watchdog settings (journal,
	// metrics, logging); transaction fields are filled in per run.
	WatchdogTemplate watchdog.Params
	Prompter         Prompter

	Services          service.Pauser
	DependentServices []string
	Prober            probe.Prober

	Journal audit.Recorder
	Metrics metrics.Reporter

	Clock       clock.Clock
	Logger      *logging.Logger
	Out         io.Writer
	Printer     *message.Printer
	NewTxID     func() string
	StopTimeout time.Duration
}

// Controller runs transactions.
type Controller struct {
	opts   Options
	clock  clock.Clock
	logger *logging.Logger
	out    io.Writer
	p      *message.Printer
}

// New returns a Controller.
func New(opts Options) *Controller {
	if opts.Runner == nil {
		opts.Runner = firewall.DefaultCommandRunner
	}
	if opts.NewBackend == nil {
		runner := opts.Runner
		opts.NewBackend = func(d firewall.Directive) (firewall.Backend, error) {
			return firewall.New(d, firewall.Options{Runner: runner})
		}
	}
	if opts.Services == nil {
		opts.Services = service.Nop{}
	}
	if opts.Journal == nil {
		opts.Journal = audit.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Printer == nil {
		opts.Printer = i18n.NewCLIPrinter()
	}
	if opts.NewTxID == nil {
		opts.NewTxID = uuid.NewString
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	return &Controller{
		opts:   opts,
		clock:  clock.Or(opts.Clock),
		logger: logging.Or(opts.Logger).WithComponent("apply"),
		out:    opts.Out,
		p:      opts.Printer,
	}
}

// tx is the state of one transaction in flight.
type tx struct {
	id      string
	started time.Time
	req     Request
	backend firewall.Backend
	snap    *snapshot.Handle
	saved   []byte
	lock    *lock.Lock
	handle  watchdog.Handle
	paused  []string
	logger  *logging.Logger
}

func (t *tx) target() string {
	return t.backend.Target()
}

func (t *tx) result(o Outcome) *Result {
	r := &Result{
		TxID:    t.id,
		Ruleset: t.req.Ruleset,
		Outcome: o,
		Paused:  t.paused,
	}
	if t.backend != nil {
		r.Target = t.backend.Target()
	}
	if t.snap != nil {
		r.Snapshot = t.snap.Path
	}
	if t.handle != nil {
		r.WatchdogPID = t.handle.PID()
	}
	return r
}

// Run executes the transaction. Every failure is an *Error. A timed-out
// confirmation returns both a Result and a KindConfirmationTimeout error.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	t := &tx{id: c.opts.NewTxID(), started: c.clock.Now(), req: req}
	t.logger = c.logger.WithTx(t.id)

	if req.Timeout < 0 {
		return t.result(Aborted), newError(KindArgument, "timeout", fmt.Errorf("must not be negative (got %s)", req.Timeout))
	}

	b, err := c.opts.NewBackend(req.Directive)
	if err != nil {
		return t.result(Aborted), newError(KindArgument, "backend", err)
	}
	t.backend = b
	if t.req.Ruleset == "" {
		t.req.Ruleset = b.DefaultRuleset()
	}

	if err := checkReadable(t.req.Ruleset); err != nil {
		return t.result(Aborted), newError(KindFileAccess, t.req.Ruleset, err)
	}

	if missing := firewall.MissingCommands(c.opts.Runner, b.Commands()...); len(missing) > 0 {
		return t.result(Aborted), newError(KindDependencyMissing, strings.Join(missing, ", "),
			fmt.Errorf("required command not found in PATH"))
	}

	// Refuse early, before capturing, if another transaction holds the
	// target. TryAcquire below stays authoritative.
	holder, err := c.opts.Locks.Peek(b.Target())
	switch {
	case holder != nil:
		return t.result(Aborted), newError(KindLockConflict, b.Target(), &lock.ConflictError{Target: b.Target(), Holder: holder})
	case errors.Is(err, lock.ErrMalformed):
		// A marker mid-write by a concurrent invocation.
		return t.result(Aborted), newError(KindLockConflict, b.Target(), &lock.ConflictError{Target: b.Target()})
	case err != nil:
		return t.result(Aborted), newError(KindFileAccess, "read lock", err)
	}

	if err := ctx.Err(); err != nil {
		return t.result(Aborted), newError(KindArgument, "interrupted", err)
	}

	snap, err := c.opts.Snapshots.Capture(ctx, b, t.id)
	if err != nil {
		if errors.Is(err, snapshot.ErrBackendUnavailable) {
			return t.result(Aborted), newError(KindBackendUnavailable, b.Target(), err)
		}
		return t.result(Aborted), newError(KindSnapshot, b.Target(), err)
	}
	t.snap = snap

	// Keep a verified copy in memory: the watchdog deletes the file once it
	// restores, which may happen before Apply returns.
	if t.saved, err = snapshot.Load(*snap); err != nil {
		c.discard(t)
		return t.result(Aborted), newError(KindSnapshot, b.Target(), err)
	}

	deadline := c.clock.Now().Add(req.Timeout)
	l, err := c.opts.Locks.TryAcquire(lock.Info{
		TxID:     t.id,
		Target:   b.Target(),
		Snapshot: snap.Path,
		Ruleset:  t.req.Ruleset,
		Deadline: deadline,
	})
	if err != nil {
		c.discard(t)
		if errors.Is(err, lock.ErrConflict) {
			return t.result(Aborted), newError(KindLockConflict, b.Target(), err)
		}
		return t.result(Aborted), newError(KindFileAccess, "acquire lock", err)
	}
	t.lock = l

	// From here on the transaction must run to a resolution even if the
	// operator interrupts; only the prompt listens to ctx.
	opCtx := context.WithoutCancel(ctx)

	if err := c.arm(opCtx, t, deadline); err != nil {
		c.discard(t)
		c.release(t)
		return t.result(Aborted), &Error{Kind: KindApply, Phase: PhaseArm, Op: "spawn watchdog", Err: err}
	}
	c.record(opCtx, t, audit.ActionStarted, map[string]any{
		"ruleset":      t.req.Ruleset,
		"timeout":      req.Timeout.String(),
		"watchdog_pid": t.handle.PID(),
	})

	t.paused = c.opts.Services.Pause(opCtx, c.opts.DependentServices)
	if len(t.paused) > 0 {
		if err := t.lock.Update(func(i *lock.Info) { i.Paused = t.paused }); err != nil {
			t.logger.Warn("failed to record paused services in lock", "error", err)
		}
	}

	c.p.Fprintf(c.out, i18n.MsgApplying, t.req.Ruleset, b.Target())
	if err := b.Apply(opCtx, t.req.Ruleset); err != nil {
		t.logger.Error("apply failed, watchdog stays armed", "error", err)
		c.record(opCtx, t, audit.ActionApplyFailed, map[string]any{"error": err.Error()})
		c.report(t, ApplyFailed)
		c.p.Fprintf(c.out, i18n.MsgManualAttn)
		return t.result(ApplyFailed), &Error{Kind: KindApply, Phase: PhaseApply, Op: t.req.Ruleset, Err: err}
	}
	c.record(opCtx, t, audit.ActionApplied, nil)

	if c.expired(t, deadline) {
		return c.overran(opCtx, t)
	}

	answer, reason := c.solicit(ctx, t)
	switch answer {
	case confirm.Confirmed:
		return c.confirmed(opCtx, t)
	case confirm.Declined:
		return c.declined(opCtx, t, reason)
	default:
		return c.timedOut(opCtx, t)
	}
}

func (c *Controller) arm(ctx context.Context, t *tx, deadline time.Time) error {
	params := c.opts.WatchdogTemplate
	params.TxID = t.id
	params.Directive = firewall.DirectiveOf(t.backend)
	params.Timeout = t.req.Timeout
	params.Started = t.started
	params.Deadline = deadline
	params.Snapshot = *t.snap
	params.LockDir = c.opts.Locks.Dir()

	h, err := c.opts.Spawner.Spawn(ctx, params)
	if err != nil {
		return err
	}
	t.handle = h
	t.logger.Info("watchdog armed", "pid", h.PID(), "deadline", deadline)

	if err := t.lock.Update(func(i *lock.Info) { i.WatchdogPID = h.PID() }); err != nil {
		t.logger.Warn("failed to record watchdog in lock", "error", err)
	}
	return nil
}

// solicit runs the reachability probe, then the confirmation prompt.
func (c *Controller) solicit(ctx context.Context, t *tx) (confirm.Answer, string) {
	if len(t.req.ProbeTargets) > 0 && c.opts.Prober != nil {
		if rep := c.opts.Prober.Check(ctx, t.req.ProbeTargets); !rep.OK() {
			t.logger.Warn("no probe target reachable", "targets", t.req.ProbeTargets)
			c.p.Fprintf(c.out, i18n.MsgProbeFailed)
			return confirm.Declined, ReasonProbeFailed
		}
	}
	return c.opts.Prompter.Ask(ctx, t.req.Timeout), ReasonOperator
}

func (c *Controller) confirmed(ctx context.Context, t *tx) (*Result, error) {
	outcome, err := c.stop(ctx, t)
	if err != nil {
		t.logger.Error("could not stop watchdog, leaving artifacts in place", "error", err)
		c.p.Fprintf(c.out, i18n.MsgManualAttn)
		return t.result(Confirmed), &Error{Kind: KindApply, Phase: PhaseStop, Op: "stop watchdog", Err: err}
	}

	if outcome.Fired() {
		// The watchdog owns the artifacts once it fires.
		t.logger.Warn("confirmation lost the race with the watchdog", "watchdog", outcome)
		c.p.Fprintf(c.out, i18n.MsgLateConfirm)
		if outcome == watchdog.RestoreFailed {
			c.p.Fprintf(c.out, i18n.MsgManualAttn)
		}
		c.record(ctx, t, audit.ActionLateConfirm, map[string]any{"watchdog": outcome.String()})
		c.report(t, LateConfirm)
		return t.result(LateConfirm), nil
	}

	c.discard(t)
	c.release(t)

	res := t.result(Confirmed)
	if t.req.WriteTo != "" {
		if err := c.write(ctx, t); err != nil {
			t.logger.Error("failed to write applied ruleset", "path", t.req.WriteTo, "error", err)
		} else {
			res.Wrote = t.req.WriteTo
			c.p.Fprintf(c.out, i18n.MsgWroteRuleset, t.req.WriteTo)
		}
	}

	c.opts.Services.Resume(ctx, t.paused)
	c.record(ctx, t, audit.ActionConfirmed, nil)
	c.report(t, Confirmed)
	c.p.Fprintf(c.out, i18n.MsgConfirmed)
	return res, nil
}

func (c *Controller) declined(ctx context.Context, t *tx, reason string) (*Result, error) {
	c.p.Fprintf(c.out, i18n.MsgDeclined)

	if err := t.backend.Restore(ctx, t.saved); err != nil {
		t.logger.Error("restore failed, watchdog stays armed", "error", err)
		c.record(ctx, t, audit.ActionRestoreFailed, map[string]any{"error": err.Error(), "reason": reason})
		c.report(t, RestoreFailed)
		c.p.Fprintf(c.out, i18n.MsgManualAttn)
		res := t.result(RestoreFailed)
		res.Reason = reason
		return res, &Error{Kind: KindApply, Phase: PhaseRestore, Op: t.snap.Path, Err: err}
	}
	c.p.Fprintf(c.out, i18n.MsgRestored)

	if outcome, err := c.stop(ctx, t); err != nil {
		t.logger.Warn("failed to stop watchdog after restore", "error", err)
	} else if outcome.Fired() {
		t.logger.Info("watchdog fired during decline", "watchdog", outcome)
	}

	c.discard(t)
	c.release(t)
	c.opts.Services.Resume(ctx, t.paused)
	c.record(ctx, t, audit.ActionDeclined, map[string]any{"reason": reason})
	c.report(t, Declined)

	res := t.result(Declined)
	res.Reason = reason
	return res, nil
}

func (c *Controller) timedOut(ctx context.Context, t *tx) (*Result, error) {
	c.p.Fprintf(c.out, i18n.MsgTimedOut)
	c.record(ctx, t, audit.ActionTimedOut, nil)
	c.report(t, TimedOut)
	return t.result(TimedOut), newError(KindConfirmationTimeout, t.target(),
		fmt.Errorf("no confirmation within %s", t.req.Timeout))
}

// expired reports whether the watchdog may have fired before the new
// ruleset finished loading.
func (c *Controller) expired(t *tx, deadline time.Time) bool {
	select {
	case <-t.handle.Done():
		return true
	default:
	}
	return !c.clock.Now().Before(deadline)
}

// overran resolves a transaction whose deadline passed during Apply. A
// watchdog restore that ran first was undone by Apply, so the controller
// stops the watchdog and restores again from its in-memory copy.
func (c *Controller) overran(ctx context.Context, t *tx) (*Result, error) {
	c.p.Fprintf(c.out, i18n.MsgExpired)

	outcome, stopErr := c.stop(ctx, t)
	if stopErr != nil {
		t.logger.Warn("failed to stop watchdog after deadline", "error", stopErr)
	}
	t.logger.Warn("deadline passed during apply, restoring", "watchdog", outcome)

	if err := t.backend.Restore(ctx, t.saved); err != nil {
		t.logger.Error("restore failed", "error", err)
		c.record(ctx, t, audit.ActionRestoreFailed, map[string]any{"error": err.Error(), "reason": ReasonDeadline})
		c.report(t, RestoreFailed)
		c.p.Fprintf(c.out, i18n.MsgManualAttn)
		res := t.result(RestoreFailed)
		res.Reason = ReasonDeadline
		return res, &Error{Kind: KindApply, Phase: PhaseRestore, Op: t.snap.Path, Err: err}
	}
	c.p.Fprintf(c.out, i18n.MsgRestored)

	if stopErr == nil {
		c.discard(t)
		c.release(t)
		c.opts.Services.Resume(ctx, t.paused)
	}
	c.record(ctx, t, audit.ActionTimedOut, map[string]any{"restored_by": audit.ActorController, "watchdog": outcome.String()})
	c.report(t, TimedOut)

	res := t.result(TimedOut)
	res.Reason = ReasonDeadline
	return res, newError(KindConfirmationTimeout, t.target(),
		fmt.Errorf("deadline of %s passed while applying", t.req.Timeout))
}

func (c *Controller) stop(ctx context.Context, t *tx) (watchdog.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.StopTimeout)
	defer cancel()
	return t.handle.Stop(ctx)
}

func (c *Controller) write(ctx context.Context, t *tx) error {
	data, err := t.backend.Save(ctx)
	if err != nil {
		return err
	}
	return snapshot.WriteFileAtomic(t.req.WriteTo, data)
}

func (c *Controller) discard(t *tx) {
	if t.snap == nil {
		return
	}
	if err := snapshot.Discard(*t.snap); err != nil {
		t.logger.Warn("failed to delete snapshot", "path", t.snap.Path, "error", err)
	}
}

func (c *Controller) release(t *tx) {
	if t.lock == nil {
		return
	}
	if err := t.lock.Release(); err != nil {
		t.logger.Warn("failed to release lock", "error", err)
	}
}

func (c *Controller) record(ctx context.Context, t *tx, action string, details map[string]any) {
	err := c.opts.Journal.Record(ctx, audit.Event{
		TxID:    t.id,
		Target:  t.target(),
		Actor:   audit.ActorController,
		Action:  action,
		Details: details,
	})
	if err != nil {
		t.logger.Warn("journal write failed", "action", action, "error", err)
	}
}

func (c *Controller) report(t *tx, o Outcome) {
	err := c.opts.Metrics.Report(metrics.Result{
		Target:   t.target(),
		Outcome:  o.String(),
		ExitCode: ExitCode(t.result(o), nil),
		Started:  t.started,
		Finished: c.clock.Now(),
	})
	if err != nil {
		t.logger.Warn("metrics write failed", "error", err)
	}
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
