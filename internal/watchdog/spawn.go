package watchdog

import (
	"context"
	"errors"
	"os"
	"sync"
)

// Handle is the controller's only channel to a running watchdog.
type Handle interface {
	// PID identifies the watchdog process.
	PID() int
	// Stop asks the watchdog to stand down and waits for it to exit. The
	// returned outcome tells whether the timer had already fired.
	Stop(ctx context.Context) (Outcome, error)
	// Done is closed once the watchdog has exited, for whatever reason.
	Done() <-chan struct{}
}

// Spawner starts a watchdog for a transaction.
type Spawner interface {
	Spawn(ctx context.Context, p Params) (Handle, error)
}

// InProcessSpawner runs the watchdog on a goroutine in the current
// process. It shares no state with the caller beyond Deps, which makes it
// suitable for tests and for hosts where a detached child is not wanted.
type InProcessSpawner struct {
	Deps Deps

	mu      sync.Mutex
	handles []*LocalHandle
}

// Spawn starts the watchdog goroutine.
func (s *InProcessSpawner) Spawn(ctx context.Context, p Params) (Handle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &LocalHandle{cancel: cancel, done: make(chan struct{})}
	w := New(p, s.Deps)
	go func() {
		defer close(h.done)
		h.outcome, h.err = w.Run(runCtx)
	}()

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

// Handles returns every handle spawned so far.
func (s *InProcessSpawner) Handles() []*LocalHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*LocalHandle(nil), s.handles...)
}

// LocalHandle controls an in-process watchdog.
type LocalHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
	err     error
}

func (h *LocalHandle) PID() int {
	return os.Getpid()
}

func (h *LocalHandle) Stop(ctx context.Context) (Outcome, error) {
	h.cancel()
	return h.Wait(ctx)
}

// Wait blocks until the watchdog finishes on its own.
func (h *LocalHandle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done is closed when the watchdog has finished.
func (h *LocalHandle) Done() <-chan struct{} {
	return h.done
}

// ErrUnsupported is returned by spawners that cannot run on this platform.
var ErrUnsupported = errors.New("detached watchdog is not supported on this platform")
