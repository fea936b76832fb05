// Package probe checks that the host can still reach the outside world
// after a ruleset change.
package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"golang.org/x/sync/errgroup"

	"grimm.is/tether/internal/logging"
)

// DefaultTimeout bounds a single target's probe.
const DefaultTimeout = 3 * time.Second

// Report is the outcome of probing a set of targets.
type Report struct {
	Reachable   []string
	Unreachable map[string]error
}

// OK reports whether any target answered. An empty target list is OK.
func (r Report) OK() bool {
	return len(r.Reachable) > 0 || len(r.Unreachable) == 0
}

// Prober checks reachability.
type Prober interface {
	Check(ctx context.Context, targets []string) Report
}

// PingFunc sends one echo request to host and returns nil on a reply.
type PingFunc func(ctx context.Context, host string, timeout time.Duration) error

// ICMP probes with unprivileged ICMP echo.
type ICMP struct {
	Timeout time.Duration
	Ping    PingFunc
	logger  *logging.Logger
}

// NewICMP returns an ICMP prober.
func NewICMP(timeout time.Duration, logger *logging.Logger) *ICMP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ICMP{Timeout: timeout, Ping: Ping, logger: logging.Or(logger).WithComponent("probe")}
}

// Check probes every target concurrently.
func (p *ICMP) Check(ctx context.Context, targets []string) Report {
	rep := Report{Unreachable: make(map[string]error)}
	if len(targets) == 0 {
		return rep
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range targets {
		host := host
		g.Go(func() error {
			err := p.Ping(gctx, host, p.Timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("target unreachable", "target", host, "error", err)
				rep.Unreachable[host] = err
				return nil
			}
			p.logger.Info("target reachable", "target", host)
			rep.Reachable = append(rep.Reachable, host)
			return nil
		})
	}
	g.Wait()

	sort.Strings(rep.Reachable)
	return rep
}

// Ping is the pro-bing implementation of PingFunc.
func Ping(ctx context.Context, host string, timeout time.Duration) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no reply within %s", timeout)
	}
	return nil
}
