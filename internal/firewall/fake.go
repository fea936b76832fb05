package firewall

import (
	"context"
	"os"
	"sync"
)

// FakeBackend is an in-memory Backend for tests. The "kernel" state is a
// byte slice: Save returns it, Apply replaces it with a file's content, and
// Restore replaces it with a snapshot.
type FakeBackend struct {
	mu sync.Mutex

	NameValue   string
	FamilyValue Family
	State       []byte

	SaveErr    error
	ApplyErr   error
	RestoreErr error
	ProbeErr   error

	// BeforeApply runs at the start of Apply, before the state changes.
	BeforeApply func()
	// OnApply runs after a successful Apply, before it returns.
	OnApply func()
	// OnRestore runs at the start of Restore.
	OnRestore func()

	Saves    int
	Applies  int
	Restores int
}

// NewFakeBackend returns an iptables/ipv4 fake holding state.
func NewFakeBackend(state string) *FakeBackend {
	return &FakeBackend{
		NameValue:   BackendIPTables,
		FamilyValue: FamilyIPv4,
		State:       []byte(state),
	}
}

func (f *FakeBackend) Name() string           { return f.NameValue }
func (f *FakeBackend) Family() Family         { return f.FamilyValue }
func (f *FakeBackend) Target() string         { return f.NameValue + "-" + string(f.FamilyValue) }
func (f *FakeBackend) Commands() []string     { return nil }
func (f *FakeBackend) DefaultRuleset() string { return "" }

func (f *FakeBackend) Save(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Saves++
	if f.SaveErr != nil {
		return nil, f.SaveErr
	}
	return append([]byte(nil), f.State...), nil
}

func (f *FakeBackend) Apply(ctx context.Context, path string) error {
	if f.BeforeApply != nil {
		f.BeforeApply()
	}

	f.mu.Lock()
	f.Applies++
	if f.ApplyErr != nil {
		err := f.ApplyErr
		f.mu.Unlock()
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.State = data
	hook := f.OnApply
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *FakeBackend) Restore(ctx context.Context, snapshot []byte) error {
	f.mu.Lock()
	hook := f.OnRestore
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Restores++
	if f.RestoreErr != nil {
		return f.RestoreErr
	}
	f.State = append([]byte(nil), snapshot...)
	return nil
}

func (f *FakeBackend) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ProbeErr
}

// Current returns a copy of the state.
func (f *FakeBackend) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.State)
}

// RestoreCount returns the number of Restore calls.
func (f *FakeBackend) RestoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Restores
}

// SetRestoreErr changes the restore failure under the lock.
func (f *FakeBackend) SetRestoreErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestoreErr = err
}
