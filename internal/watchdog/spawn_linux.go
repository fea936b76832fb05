//go:build linux
// +build linux

package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/logging"
)

// ProcessSpawner re-executes the current binary as a detached watchdog.
// The child runs in its own session so a hangup of the operator's terminal
// does not reach it; it receives its parameters in brand.WatchdogEnv.
type ProcessSpawner struct {
	// Executable defaults to os.Executable().
	Executable string
	// LogPath receives the child's stdout and stderr. Empty discards them.
	LogPath string
	// Env is the base environment, os.Environ() when nil.
	Env []string
}

func (s *ProcessSpawner) Spawn(ctx context.Context, p Params) (Handle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	encoded, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode watchdog parameters: %w", err)
	}

	exe := s.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
	}

	// exec.Command, not CommandContext: the child must outlive ctx.
	cmd := exec.Command(exe)
	cmd.Args[0] = brand.WatchdogProcessName

	base := s.Env
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = append(withoutVar(base, brand.WatchdogEnv), brand.WatchdogEnv+"="+encoded)

	if s.LogPath != "" {
		logF, err := logging.OpenFile(s.LogPath)
		if err != nil {
			return nil, err
		}
		defer logF.Close()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start watchdog: %w", err)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *processHandle) Done() <-chan struct{} {
	return h.done
}

func (h *processHandle) Stop(ctx context.Context) (Outcome, error) {
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return 0, fmt.Errorf("signal watchdog %d: %w", h.PID(), err)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for watchdog %d: %w", h.PID(), ctx.Err())
	}

	state := h.cmd.ProcessState
	if state == nil {
		return 0, fmt.Errorf("watchdog %d: %w", h.PID(), h.waitErr)
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		// Killed by our SIGTERM before it installed its handler, so it
		// never reached the timer.
		if ws.Signal() == syscall.SIGTERM {
			return Cancelled, nil
		}
		return 0, fmt.Errorf("watchdog %d killed by %s", h.PID(), ws.Signal())
	}
	return OutcomeFromExitCode(state.ExitCode())
}

// Terminate stops a watchdog that is not our child, such as one recorded in
// a stale lock, and waits for it to disappear. Its outcome is not
// observable.
func Terminate(ctx context.Context, pid int) error {
	if !lock.ProcessAlive(pid) {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal watchdog %d: %w", pid, err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for lock.ProcessAlive(pid) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("watchdog %d still running: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func withoutVar(env []string, name string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, name+"=") {
			out = append(out, e)
		}
	}
	return out
}
