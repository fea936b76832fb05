// Package service pauses and resumes systemd units that react to firewall
// changes (fail2ban and similar). Their own rules would otherwise be
// clobbered by, or interleaved with, the ruleset being applied.
package service

import (
	"context"

	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/logging"
)

// DefaultDependents are paused when the configuration names none.
var DefaultDependents = []string{"fail2ban"}

// Pauser stops dependent units before a change and starts them again
// afterwards. Every operation is best effort.
type Pauser interface {
	// Pause stops each active unit and returns the ones it stopped.
	Pause(ctx context.Context, units []string) []string
	// Resume starts the given units.
	Resume(ctx context.Context, units []string)
}

// Systemd drives units with systemctl.
type Systemd struct {
	runner firewall.CommandRunner
	logger *logging.Logger
}

// NewSystemd returns a Pauser backed by systemctl.
func NewSystemd(runner firewall.CommandRunner, logger *logging.Logger) *Systemd {
	if runner == nil {
		runner = firewall.DefaultCommandRunner
	}
	return &Systemd{runner: runner, logger: logging.Or(logger).WithComponent("service")}
}

func (s *Systemd) available() bool {
	_, err := s.runner.LookPath("systemctl")
	return err == nil
}

func (s *Systemd) Pause(ctx context.Context, units []string) []string {
	if len(units) == 0 || !s.available() {
		return nil
	}

	var stopped []string
	for _, unit := range units {
		// is-active exits non-zero for inactive and unknown units alike.
		if err := s.runner.Run(ctx, "systemctl", "is-active", "--quiet", unit); err != nil {
			s.logger.Debug("unit not active, skipping", "unit", unit)
			continue
		}
		if err := s.runner.Run(ctx, "systemctl", "stop", unit); err != nil {
			s.logger.Warn("failed to stop unit", "unit", unit, "error", err)
			continue
		}
		s.logger.Info("stopped unit", "unit", unit)
		stopped = append(stopped, unit)
	}
	return stopped
}

func (s *Systemd) Resume(ctx context.Context, units []string) {
	if len(units) == 0 || !s.available() {
		return
	}
	for _, unit := range units {
		if err := s.runner.Run(ctx, "systemctl", "start", unit); err != nil {
			s.logger.Warn("failed to start unit", "unit", unit, "error", err)
			continue
		}
		s.logger.Info("started unit", "unit", unit)
	}
}

// Nop pauses nothing.
type Nop struct{}

func (Nop) Pause(context.Context, []string) []string { return nil }
func (Nop) Resume(context.Context, []string)         {}
