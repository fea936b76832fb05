package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"grimm.is/tether/internal/audit"
	"grimm.is/tether/internal/metrics"
)

// RequirePrivileged skips the test unless TETHER_PRIVILEGED_TEST is set.
// Such tests drive the real iptables/nft commands and change the host's
// ruleset, so they only run in a disposable VM or network namespace.
func RequirePrivileged(t *testing.T) {
	t.Helper()
	if os.Getenv("TETHER_PRIVILEGED_TEST") == "" {
		t.Skip("Skipping test: requires TETHER_PRIVILEGED_TEST environment")
	}
}

// Journal is an audit.Recorder that keeps events in memory.
type Journal struct {
	mu     sync.Mutex
	events []audit.Event
}

func (j *Journal) Record(ctx context.Context, evt audit.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evt)
	return nil
}

// Actions returns the recorded actions in order.
func (j *Journal) Actions() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	for i, e := range j.events {
		out[i] = e.Action
	}
	return out
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []audit.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]audit.Event(nil), j.events...)
}

// Metrics is a metrics.Reporter that keeps results in memory.
type Metrics struct {
	mu      sync.Mutex
	results []metrics.Result
}

func (m *Metrics) Report(res metrics.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

// Outcomes returns the reported outcomes in order.
func (m *Metrics) Outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.results))
	for i, r := range m.results {
		out[i] = r.Outcome
	}
	return out
}

// Pauser is a service.Pauser that treats every unit as active.
type Pauser struct {
	mu      sync.Mutex
	paused  [][]string
	resumed [][]string
}

func (p *Pauser) Pause(ctx context.Context, units []string) []string {
	if len(units) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = append(p.paused, units)
	return units
}

func (p *Pauser) Resume(ctx context.Context, units []string) {
	if len(units) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = append(p.resumed, units)
}

// Paused returns every Pause call's units.
func (p *Pauser) Paused() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.paused...)
}

// Resumed returns every Resume call's units.
func (p *Pauser) Resumed() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.resumed...)
}
