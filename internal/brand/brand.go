// Package brand holds product naming and the default on-disk layout.
//
// Identity comes from brand.json, embedded at compile time, so packaging
// scripts and the binary agree on names and paths.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand is the decoded form of brand.json.
type Brand struct {
	Name                string `json:"name"`
	LowerName           string `json:"lowerName"`
	Description         string `json:"description"`
	Tagline             string `json:"tagline"`
	BinaryName          string `json:"binaryName"`
	ConfigEnvPrefix     string `json:"configEnvPrefix"`
	ConfigFileName      string `json:"configFileName"`
	WatchdogEnv         string `json:"watchdogEnv"`
	WatchdogProcessName string `json:"watchdogProcessName"`

	Dirs struct {
		Config string `json:"config"`
		State  string `json:"state"`
		Log    string `json:"log"`
		Run    string `json:"run"`
	} `json:"dirs"`
}

var current Brand

// Identity, copied out of brand.json at init.
var (
	Name                string
	LowerName           string
	Description         string
	Tagline             string
	BinaryName          string
	ConfigEnvPrefix     string
	ConfigFileName      string
	WatchdogEnv         string
	WatchdogProcessName string

	DefaultConfigDir string
	DefaultStateDir  string
	DefaultLogDir    string
	DefaultRunDir    string
)

// Build metadata, overridden with -ldflags "-X grimm.is/tether/internal/brand.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	if err := json.Unmarshal(brandJSON, &current); err != nil {
		panic("brand: bad brand.json: " + err.Error())
	}
	c := current
	Name, LowerName = c.Name, c.LowerName
	Description, Tagline = c.Description, c.Tagline
	BinaryName = c.BinaryName
	ConfigEnvPrefix, ConfigFileName = c.ConfigEnvPrefix, c.ConfigFileName
	WatchdogEnv, WatchdogProcessName = c.WatchdogEnv, c.WatchdogProcessName
	DefaultConfigDir, DefaultStateDir = c.Dirs.Config, c.Dirs.State
	DefaultLogDir, DefaultRunDir = c.Dirs.Log, c.Dirs.Run
}

// Get returns the decoded brand.json.
func Get() Brand { return current }

// VersionString is the banner printed by --version and `version`.
func VersionString() string {
	return Name + " " + Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}

// resolveDir picks <PREFIX>_<key>, then <PREFIX>_PREFIX/<sub>, then fallback.
func resolveDir(key, sub, fallback string) string {
	if dir := os.Getenv(ConfigEnvPrefix + "_" + key); dir != "" {
		return dir
	}
	if root := os.Getenv(ConfigEnvPrefix + "_PREFIX"); root != "" {
		return filepath.Join(root, sub)
	}
	return fallback
}

// GetStateDir is where the transaction journal lives.
func GetStateDir() string { return resolveDir("STATE_DIR", "state", DefaultStateDir) }

// GetLogDir is where the detached watchdog writes its log.
func GetLogDir() string { return resolveDir("LOG_DIR", "log", DefaultLogDir) }

// GetConfigDir is the directory searched for the default config file.
func GetConfigDir() string { return resolveDir("CONFIG_DIR", "config", DefaultConfigDir) }

// GetRunDir holds lock markers and snapshots. It should be on tmpfs.
func GetRunDir() string { return resolveDir("RUN_DIR", "run", DefaultRunDir) }

func GetConfigPath() string { return filepath.Join(GetConfigDir(), ConfigFileName) }

func GetSnapshotDir() string { return filepath.Join(GetRunDir(), "snapshots") }
