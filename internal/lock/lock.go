// Package lock enforces at most one in-flight transaction per target.
//
// A lock is a marker file created with O_CREATE|O_EXCL in the run
// directory, so check-then-create cannot race between two invocations. The
// marker carries owner metadata (transaction ID, owner PID, watchdog PID,
// snapshot path, deadline, paused services) which lets a later process stop the watchdog and
// tell a stale marker from a live one. Nothing removes a stale marker
// automatically; see Manager.Unlock.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/tether/internal/clock"
)

const suffix = ".lock"

var (
	// ErrConflict means another transaction holds the target.
	ErrConflict = errors.New("transaction already in progress")
	// ErrNotOwner means the marker on disk belongs to a different transaction.
	ErrNotOwner = errors.New("lock held by a different transaction")
	// ErrMalformed means a marker exists but does not parse, usually because
	// its owner is still writing it.
	ErrMalformed = errors.New("malformed lock marker")
	// ErrHolderAlive refuses to clear a marker whose processes still run.
	ErrHolderAlive = errors.New("lock holder is still running")
)

// Info is the metadata stored in a lock marker.
type Info struct {
	TxID        string    `json:"tx_id"`
	Target      string    `json:"target"`
	OwnerPID    int       `json:"owner_pid"`
	WatchdogPID int       `json:"watchdog_pid,omitempty"`
	Snapshot    string    `json:"snapshot,omitempty"`
	Ruleset     string    `json:"ruleset,omitempty"`
	Paused      []string  `json:"paused,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Deadline    time.Time `json:"deadline,omitempty"`
}

// ConflictError describes the holder of a contested lock. Holder is nil when
// the marker could not be read (e.g. mid-write by the other invocation).
type ConflictError struct {
	Target string
	Holder *Info
}

func (e *ConflictError) Error() string {
	if e.Holder == nil || e.Holder.TxID == "" {
		return fmt.Sprintf("%s: %v", e.Target, ErrConflict)
	}
	return fmt.Sprintf("%s: %v (tx %s, owner pid %d, since %s)",
		e.Target, ErrConflict, e.Holder.TxID, e.Holder.OwnerPID, e.Holder.CreatedAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Manager creates and removes lock markers in one directory.
type Manager struct {
	dir   string
	clock clock.Clock
	alive func(pid int) bool
}

// NewManager returns a Manager storing markers in dir.
func NewManager(dir string, clk clock.Clock) *Manager {
	return &Manager{dir: dir, clock: clock.Or(clk), alive: ProcessAlive}
}

// Dir returns the marker directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the marker path for target.
func (m *Manager) Path(target string) string {
	return filepath.Join(m.dir, sanitize(target)+suffix)
}

// Peek returns the current holder of target, or nil if the target is free.
func (m *Manager) Peek(target string) (*Info, error) {
	info, err := readInfo(m.Path(target))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return info, err
}

// TryAcquire atomically creates the marker for info.Target. It fails with a
// *ConflictError (errors.Is ErrConflict) when a marker already exists.
func (m *Manager) TryAcquire(info Info) (*Lock, error) {
	if info.Target == "" || info.TxID == "" {
		return nil, fmt.Errorf("lock requires a target and a transaction id")
	}
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if info.OwnerPID == 0 {
		info.OwnerPID = os.Getpid()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = m.clock.Now()
	}

	path := m.Path(info.Target)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			holder, _ := readInfo(path)
			return nil, &ConflictError{Target: info.Target, Holder: holder}
		}
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err == nil {
		_, err = f.Write(append(data, '\n'))
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock %s: %w", path, err)
	}

	return &Lock{m: m, path: path, info: info}, nil
}

// Release removes the marker for target if it belongs to txID. A missing
// marker is not an error, so every resolution path may call Release.
func (m *Manager) Release(target, txID string) error {
	path := m.Path(target)
	info, err := readInfo(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && info.TxID != txID {
		return fmt.Errorf("%s: %w (held by %s)", target, ErrNotOwner, info.TxID)
	}
	// An unreadable marker with our name on it is ours to remove: only the
	// owner writes it.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock %s: %w", path, err)
	}
	return nil
}

// List returns every marker in the directory, sorted by target.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := readInfo(filepath.Join(m.dir, e.Name()))
		if err != nil {
			infos = append(infos, Info{Target: strings.TrimSuffix(e.Name(), suffix)})
			continue
		}
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Target < infos[j].Target })
	return infos, nil
}

// Stale reports whether neither the owner nor the watchdog recorded in info
// is still running.
func (m *Manager) Stale(info Info) bool {
	if info.OwnerPID != 0 && m.alive(info.OwnerPID) {
		return false
	}
	if info.WatchdogPID != 0 && m.alive(info.WatchdogPID) {
		return false
	}
	return true
}

// Unlock removes a marker regardless of owner, but only when it is stale.
// This is the manual cleanup path for crashed transactions.
func (m *Manager) Unlock(target string) (*Info, error) {
	info, err := m.Peek(target)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	if !m.Stale(*info) {
		return info, fmt.Errorf("%s: %w", target, ErrHolderAlive)
	}
	if err := os.Remove(m.Path(target)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return info, err
	}
	return info, nil
}

// ForceUnlock removes a marker even if its holder is alive. Callers stop
// the recorded watchdog first.
func (m *Manager) ForceUnlock(target string) (*Info, error) {
	info, err := m.Peek(target)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		// An unreadable marker is still removed.
		info = &Info{Target: target}
	}
	if err := os.Remove(m.Path(target)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return info, err
	}
	return info, nil
}

// Lock is a held marker.
type Lock struct {
	m    *Manager
	path string
	info Info
}

// Info returns a copy of the stored metadata.
func (l *Lock) Info() Info {
	return l.info
}

// Path returns the marker path.
func (l *Lock) Path() string {
	return l.path
}

// Update rewrites the marker metadata. The new content is written to a
// temporary file and renamed over the marker, so the marker never
// disappears while the lock is held.
func (l *Lock) Update(fn func(*Info)) error {
	next := l.info
	fn(&next)
	next.TxID = l.info.TxID
	next.Target = l.info.Target

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".lock-*")
	if err != nil {
		return fmt.Errorf("update lock: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("update lock: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("update lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("update lock: %w", err)
	}

	// Refuse to resurrect a marker someone else released.
	current, err := readInfo(l.path)
	if err != nil {
		return fmt.Errorf("update lock: %w", err)
	}
	if current.TxID != l.info.TxID {
		return fmt.Errorf("update lock: %w", ErrNotOwner)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("update lock: %w", err)
	}
	l.info = next
	return nil
}

// Release removes the marker if it still belongs to this lock.
func (l *Lock) Release() error {
	return l.m.Release(l.info.Target, l.info.TxID)
}

func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrMalformed, path, err)
	}
	return &info, nil
}

func sanitize(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, target)
}

// ProcessAlive reports whether pid refers to a running process. EPERM means
// the process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
