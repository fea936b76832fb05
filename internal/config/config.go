// Package config loads tether.hcl and resolves it into Settings.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"grimm.is/tether/internal/brand"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// DefaultTimeout is how long the operator has to confirm a change.
const DefaultTimeout = 10 * time.Second

// ErrInvalid marks a configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config mirrors tether.hcl. Every field is optional; unset fields fall
// back to flags or built-in defaults.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// Timeout is the confirmation window in seconds.
	Timeout *int    `hcl:"timeout,optional" json:"timeout,omitempty"`
	Backend string  `hcl:"backend,optional" json:"backend,omitempty"`
	Family  string  `hcl:"family,optional" json:"family,omitempty"`
	Ruleset string  `hcl:"ruleset,optional" json:"ruleset,omitempty"`
	RunDir  string  `hcl:"run_dir,optional" json:"run_dir,omitempty"`
	State   string  `hcl:"state_dir,optional" json:"state_dir,omitempty"`
	LogDir  string  `hcl:"log_dir,optional" json:"log_dir,omitempty"`

	// DependentServices are stopped around the change. Absent means the
	// default list; an empty list disables pausing.
	DependentServices *[]string `hcl:"dependent_services,optional" json:"dependent_services,omitempty"`

	Log     *LogConfig     `hcl:"log,block" json:"log,omitempty"`
	Probe   *ProbeConfig   `hcl:"probe,block" json:"probe,omitempty"`
	Journal *JournalConfig `hcl:"journal,block" json:"journal,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `hcl:"level,optional" json:"level,omitempty"`
	JSON   bool   `hcl:"json,optional" json:"json,omitempty"`
	Syslog bool   `hcl:"syslog,optional" json:"syslog,omitempty"`
}

// ProbeConfig lists hosts that must stay reachable after a change.
type ProbeConfig struct {
	Targets []string `hcl:"targets,optional" json:"targets,omitempty"`
	// Timeout per target in seconds.
	Timeout int `hcl:"timeout,optional" json:"timeout,omitempty"`
}

// JournalConfig controls the transaction journal.
type JournalConfig struct {
	Enabled       *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Path          string `hcl:"path,optional" json:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
}

// MetricsConfig controls the node_exporter textfile.
type MetricsConfig struct {
	Textfile string `hcl:"textfile,optional" json:"textfile,omitempty"`
}

// Settings are fully resolved values, ready for use.
type Settings struct {
	Timeout           time.Duration
	Backend           string
	Family            string
	Ruleset           string
	RunDir            string
	StateDir          string
	LogDir            string
	DependentServices []string

	LogLevel  string
	LogJSON   bool
	LogSyslog bool

	ProbeTargets []string
	ProbeTimeout time.Duration

	JournalEnabled   bool
	JournalPath      string
	JournalRetention int

	MetricsTextfile string
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Timeout:           DefaultTimeout,
		Backend:           "iptables",
		Family:            "ipv4",
		RunDir:            brand.GetRunDir(),
		StateDir:          brand.GetStateDir(),
		LogDir:            brand.GetLogDir(),
		DependentServices: []string{"fail2ban"},
		LogLevel:          "warn",
		ProbeTimeout:      3 * time.Second,
		JournalEnabled:    true,
		JournalRetention:  90,
	}
}

// LockDir is where lock markers live.
func (s Settings) LockDir() string {
	return s.RunDir
}

// SnapshotDir is where snapshots live.
func (s Settings) SnapshotDir() string {
	return filepath.Join(s.RunDir, "snapshots")
}

// WatchdogLog receives the detached watchdog's output.
func (s Settings) WatchdogLog() string {
	return filepath.Join(s.LogDir, "watchdog.log")
}

// Apply overlays the file's values onto base.
func (c *Config) Apply(base Settings) (Settings, error) {
	s := base
	if c == nil {
		return s, nil
	}

	if c.Timeout != nil {
		if *c.Timeout < 0 {
			return s, fmt.Errorf("%w: timeout must not be negative (got %d)", ErrInvalid, *c.Timeout)
		}
		s.Timeout = time.Duration(*c.Timeout) * time.Second
	}
	if c.Backend != "" {
		s.Backend = strings.ToLower(c.Backend)
	}
	if c.Family != "" {
		s.Family = strings.ToLower(c.Family)
	}
	if c.Ruleset != "" {
		s.Ruleset = c.Ruleset
	}
	if c.RunDir != "" {
		s.RunDir = c.RunDir
	}
	if c.State != "" {
		s.StateDir = c.State
	}
	if c.LogDir != "" {
		s.LogDir = c.LogDir
	}
	if c.DependentServices != nil {
		s.DependentServices = append([]string{}, (*c.DependentServices)...)
	}

	if c.Log != nil {
		if c.Log.Level != "" {
			s.LogLevel = c.Log.Level
		}
		s.LogJSON = c.Log.JSON
		s.LogSyslog = c.Log.Syslog
	}

	if c.Probe != nil {
		s.ProbeTargets = append([]string{}, c.Probe.Targets...)
		if c.Probe.Timeout < 0 {
			return s, fmt.Errorf("%w: probe timeout must not be negative", ErrInvalid)
		}
		if c.Probe.Timeout > 0 {
			s.ProbeTimeout = time.Duration(c.Probe.Timeout) * time.Second
		}
	}

	if c.Journal != nil {
		if c.Journal.Enabled != nil {
			s.JournalEnabled = *c.Journal.Enabled
		}
		if c.Journal.Path != "" {
			s.JournalPath = c.Journal.Path
		}
		if c.Journal.RetentionDays > 0 {
			s.JournalRetention = c.Journal.RetentionDays
		}
	}

	if c.Metrics != nil {
		s.MetricsTextfile = c.Metrics.Textfile
	}

	return s, nil
}

// Journal returns the journal path, defaulting into the state directory.
func (s Settings) Journal() string {
	if s.JournalPath != "" {
		return s.JournalPath
	}
	return filepath.Join(s.StateDir, brand.LowerName+".db")
}
