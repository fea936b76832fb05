package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/tether/internal/audit"
	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/firewall"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/service"
	"grimm.is/tether/internal/watchdog"
)

// RunWatchdog is the entry point of the detached watchdog process. encoded
// is the parameter record from brand.WatchdogEnv. The return value is the
// process exit status the controller decodes.
func RunWatchdog(encoded string) int {
	if err := SetProcessName(brand.WatchdogProcessName); err != nil {
		fmt.Fprintf(os.Stderr, "%s: set process name: %v\n", brand.WatchdogProcessName, err)
	}
	logging.SetProcessName(brand.WatchdogProcessName)

	params, err := watchdog.DecodeParams(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", brand.WatchdogProcessName, err)
		return watchdog.ExitBadParams
	}

	level, err := logging.ParseLevel(params.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	logger := logging.New(logging.Config{Level: level, Output: os.Stderr, JSON: params.LogJSON})
	logging.SetDefault(logger)

	// The operator's terminal may go away; only the controller stops us.
	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	runner := firewall.DefaultCommandRunner
	backend, err := firewall.New(params.Directive, firewall.Options{Runner: runner})
	if err != nil {
		logger.Error("cannot build restore backend", "directive", params.Directive.String(), "error", err)
		return watchdog.ExitBadParams
	}

	deps := watchdog.Deps{
		Backend:  backend,
		Services: service.NewSystemd(runner, logger),
		Logger:   logger,
	}
	if params.JournalPath != "" {
		store, err := audit.Open(params.JournalPath, params.JournalRetention, nil)
		if err != nil {
			logger.Warn("transaction journal unavailable", "path", params.JournalPath, "error", err)
		} else {
			defer store.Close()
			deps.Journal = store
		}
	}
	if params.MetricsTextfile != "" {
		deps.Metrics = metrics.NewTextfile(params.MetricsTextfile, brand.Version)
	}

	outcome, err := watchdog.New(params, deps).Run(ctx)
	if err != nil {
		logger.Error("watchdog finished with error", "outcome", outcome.String(), "error", err)
	}
	return outcome.ExitCode()
}
