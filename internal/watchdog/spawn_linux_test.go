//go:build linux
// +build linux

package watchdog

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/lock"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/snapshot"
)

// childRestoreEnv makes the re-executed test binary's backend fail its
// restore when set to "fail".
const childRestoreEnv = "TETHER_TEST_CHILD_RESTORE"

// TestMain turns the test binary into a watchdog when it is re-executed by
// ProcessSpawner, the same way main.go does for the real binary.
func TestMain(m *testing.M) {
	if encoded, ok := os.LookupEnv(brand.WatchdogEnv); ok {
		os.Exit(runChildWatchdog(encoded))
	}
	os.Exit(m.Run())
}

func runChildWatchdog(encoded string) int {
	params, err := DecodeParams(encoded)
	if err != nil {
		return ExitBadParams
	}

	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	backend := firewall.NewFakeBackend("")
	if os.Getenv(childRestoreEnv) == "fail" {
		backend.RestoreErr = errors.New("iptables-restore: exit status 1")
	}
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: os.Stderr})

	outcome, _ := New(params, Deps{Backend: backend, Logger: logger}).Run(ctx)
	return outcome.ExitCode()
}

type childFixture struct {
	params  Params
	locks   *lock.Manager
	logPath string
}

func newChildFixture(t *testing.T, timeout time.Duration) *childFixture {
	t.Helper()
	dir := t.TempDir()

	capturer := snapshot.NewCapturer(filepath.Join(dir, "snapshots"), nil, logging.Discard())
	snap, err := capturer.Capture(context.Background(), firewall.NewFakeBackend("*filter\nCOMMIT\n"), "tx-child")
	require.NoError(t, err)

	locks := lock.NewManager(filepath.Join(dir, "locks"), nil)
	_, err = locks.TryAcquire(lock.Info{TxID: "tx-child", Target: snap.Target, Snapshot: snap.Path})
	require.NoError(t, err)

	return &childFixture{
		params: Params{
			TxID:      "tx-child",
			Directive: firewall.Directive{Backend: firewall.BackendIPTables, Family: firewall.FamilyIPv4},
			Timeout:   timeout,
			Started:   time.Now(),
			Deadline:  time.Now().Add(timeout),
			Snapshot:  *snap,
			LockDir:   locks.Dir(),
		},
		locks:   locks,
		logPath: filepath.Join(dir, "log", "watchdog.log"),
	}
}

func (f *childFixture) spawn(t *testing.T, env ...string) *processHandle {
	t.Helper()
	s := &ProcessSpawner{LogPath: f.logPath}
	if len(env) > 0 {
		s.Env = append(os.Environ(), env...)
	}
	h, err := s.Spawn(context.Background(), f.params)
	require.NoError(t, err)
	ph := h.(*processHandle)
	t.Cleanup(func() {
		ph.cmd.Process.Kill()
		<-ph.done
	})
	return ph
}

// waitArmed polls the child's log until its signal handler is installed.
func (f *childFixture) waitArmed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(f.logPath)
		return strings.Contains(string(data), "armed")
	}, 10*time.Second, 10*time.Millisecond, "child watchdog never armed")
}

func (f *childFixture) lockHeld(t *testing.T) bool {
	t.Helper()
	info, err := f.locks.Peek(f.params.Target())
	require.NoError(t, err)
	return info != nil
}

func stopChild(t *testing.T, h Handle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o, err := h.Stop(ctx)
	require.NoError(t, err)
	return o
}

func waitChild(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("child watchdog did not exit")
	}
}

func TestProcessSpawner_StopBeforeDeadline(t *testing.T) {
	f := newChildFixture(t, time.Hour)
	h := f.spawn(t)
	f.waitArmed(t)

	sid, err := unix.Getsid(h.PID())
	require.NoError(t, err)
	own, err := unix.Getsid(0)
	require.NoError(t, err)
	assert.NotEqual(t, own, sid, "watchdog must run in its own session")
	assert.Equal(t, h.PID(), sid)

	assert.Equal(t, Cancelled, stopChild(t, h))
	assert.Equal(t, ExitCancelled, h.cmd.ProcessState.ExitCode(), "handled SIGTERM exits cleanly")
	assert.True(t, f.lockHeld(t), "a cancelled watchdog leaves cleanup to the controller")
	assert.True(t, snapshot.Exists(f.params.Snapshot))
}

func TestProcessSpawner_StopBeforeHandlerInstalled(t *testing.T) {
	f := newChildFixture(t, time.Hour)
	h := f.spawn(t)

	// Either the default action kills it or the handler runs; both mean the
	// timer never fired.
	assert.Equal(t, Cancelled, stopChild(t, h))
	assert.True(t, f.lockHeld(t))
}

func TestProcessSpawner_Restored(t *testing.T) {
	f := newChildFixture(t, 0)
	h := f.spawn(t)
	waitChild(t, h)

	assert.Equal(t, ExitRestored, h.cmd.ProcessState.ExitCode())
	assert.Equal(t, Restored, stopChild(t, h), "stopping an exited watchdog reports what it did")
	assert.False(t, f.lockHeld(t), "watchdog releases the lock after restoring")
	assert.False(t, snapshot.Exists(f.params.Snapshot))
}

func TestProcessSpawner_RestoreFailed(t *testing.T) {
	f := newChildFixture(t, 0)
	h := f.spawn(t, childRestoreEnv+"=fail")
	waitChild(t, h)

	assert.Equal(t, ExitRestoreFailed, h.cmd.ProcessState.ExitCode())
	assert.Equal(t, RestoreFailed, stopChild(t, h))
	assert.True(t, f.lockHeld(t), "evidence stays for manual recovery")
	assert.True(t, snapshot.Exists(f.params.Snapshot))
}

func TestProcessSpawner_ChildDoesNotInheritParams(t *testing.T) {
	t.Setenv(brand.WatchdogEnv, `{"tx_id":"stale"}`)
	f := newChildFixture(t, time.Hour)
	h := f.spawn(t)
	f.waitArmed(t)

	env, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(h.PID()), "environ"))
	require.NoError(t, err)
	var got []string
	for _, kv := range strings.Split(string(env), "\x00") {
		if strings.HasPrefix(kv, brand.WatchdogEnv+"=") {
			got = append(got, kv)
		}
	}
	require.Len(t, got, 1, "exactly one parameter record")
	assert.Contains(t, got[0], `"tx_id":"tx-child"`)
	assert.Equal(t, Cancelled, stopChild(t, h))
}

func TestWithoutVar(t *testing.T) {
	env := []string{"PATH=/usr/bin", "TETHER_WATCHDOG={}", "TETHER_WATCHDOGX=1"}
	assert.Equal(t, []string{"PATH=/usr/bin", "TETHER_WATCHDOGX=1"}, withoutVar(env, "TETHER_WATCHDOG"))
}

func TestProcessSpawner_RejectsInvalidParams(t *testing.T) {
	s := &ProcessSpawner{Executable: "/bin/true"}
	_, err := s.Spawn(context.Background(), Params{})
	assert.Error(t, err)
}

func TestTerminate_GoneProcess(t *testing.T) {
	// PID 0 is never a live process.
	require.NoError(t, Terminate(context.Background(), 0))
}

func TestTerminate_ChildWatchdog(t *testing.T) {
	f := newChildFixture(t, time.Hour)
	h := f.spawn(t)
	f.waitArmed(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// The spawner's wait goroutine reaps the child, so Terminate sees it go.
	require.NoError(t, Terminate(ctx, h.PID()))
	assert.True(t, f.lockHeld(t))
}
