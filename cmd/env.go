package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"grimm.is/tether/internal/audit"
	"grimm.is/tether/internal/brand"
	"grimm.is/tether/internal/config"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
)

// settings loads the config file and resolves it against the built-in
// defaults. Flags are applied by each command afterwards.
func (o *RootOptions) settings() (config.Settings, error) {
	path := o.ConfigPath
	if path == "" {
		path = brand.GetConfigPath()
	} else if _, err := os.Stat(path); err != nil {
		// An explicit --config must exist; the default path is optional.
		return config.Settings{}, fileAccessError(path, err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			return config.Settings{}, argumentError(path, err)
		}
		return config.Settings{}, fileAccessError(path, err)
	}

	s, err := cfg.Apply(config.Defaults())
	if err != nil {
		return config.Settings{}, argumentError(path, err)
	}

	switch {
	case o.Verbose >= 2:
		s.LogLevel = "debug"
	case o.Verbose == 1:
		s.LogLevel = "info"
	}
	return s, nil
}

// newLogger builds the foreground logger. Syslog is best effort: a host
// without /dev/log still gets stderr.
func newLogger(s config.Settings, stderr io.Writer) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, nil, argumentError("log level", err)
	}

	out := stderr
	closer := func() {}
	var syslogErr error
	if s.LogSyslog {
		sw, err := logging.NewSyslogWriter(logging.DefaultSyslogConfig())
		if err != nil {
			syslogErr = err
		} else {
			out = io.MultiWriter(stderr, sw)
			closer = func() { sw.Close() }
		}
	}

	logger := logging.New(logging.Config{Level: level, Output: out, JSON: s.LogJSON})
	logging.SetDefault(logger)
	if syslogErr != nil {
		logger.Warn("syslog unavailable, logging to stderr only", "error", syslogErr)
	}
	return logger, closer, nil
}

// openJournal opens the transaction journal and prunes old entries. A
// journal that cannot be opened is logged and replaced by a no-op: it must
// never block a firewall change.
func openJournal(ctx context.Context, s config.Settings, logger *logging.Logger) (audit.Recorder, func()) {
	if !s.JournalEnabled {
		return audit.Nop{}, func() {}
	}
	store, err := audit.Open(s.Journal(), s.JournalRetention, nil)
	if err != nil {
		logger.Warn("transaction journal unavailable", "path", s.Journal(), "error", err)
		return audit.Nop{}, func() {}
	}
	if n, err := store.Prune(ctx); err != nil {
		logger.Warn("journal prune failed", "error", err)
	} else if n > 0 {
		logger.Debug("pruned journal", "rows", n)
	}
	return store, func() { store.Close() }
}

func newReporter(s config.Settings) metrics.Reporter {
	if s.MetricsTextfile == "" {
		return metrics.Nop{}
	}
	return metrics.NewTextfile(s.MetricsTextfile, brand.Version)
}

// watchdogLevel is the watchdog's log level: info unless the operator asked
// for more.
func watchdogLevel(s config.Settings) string {
	if s.LogLevel == "debug" {
		return "debug"
	}
	return "info"
}
