package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadHCL_Full(t *testing.T) {
	hcl := `
schema_version = "1.0"
timeout = 30
backend = "nft"
family = "inet"
ruleset = "/etc/nftables.d/edge.nft"
run_dir = "/run/tether-test"
dependent_services = ["fail2ban", "sshguard"]

log {
  level = "debug"
  json = true
}

probe {
  targets = ["192.0.2.1", "gateway.example.net"]
  timeout = 2
}

journal {
  retention_days = 30
}

metrics {
  textfile = "/var/lib/node_exporter/textfile/tether.prom"
}
`
	cfg, err := LoadHCL([]byte(hcl), "tether.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}

	s, err := cfg.Apply(Defaults())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if s.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", s.Timeout)
	}
	if s.Backend != "nft" || s.Family != "inet" {
		t.Errorf("Backend/Family = %s/%s, want nft/inet", s.Backend, s.Family)
	}
	if s.Ruleset != "/etc/nftables.d/edge.nft" {
		t.Errorf("Ruleset = %q", s.Ruleset)
	}
	if s.SnapshotDir() != "/run/tether-test/snapshots" {
		t.Errorf("SnapshotDir() = %q", s.SnapshotDir())
	}
	if len(s.DependentServices) != 2 || s.DependentServices[1] != "sshguard" {
		t.Errorf("DependentServices = %v", s.DependentServices)
	}
	if s.LogLevel != "debug" || !s.LogJSON {
		t.Errorf("log = %q json=%v", s.LogLevel, s.LogJSON)
	}
	if len(s.ProbeTargets) != 2 || s.ProbeTimeout != 2*time.Second {
		t.Errorf("probe = %v %v", s.ProbeTargets, s.ProbeTimeout)
	}
	if !s.JournalEnabled || s.JournalRetention != 30 {
		t.Errorf("journal enabled=%v retention=%d", s.JournalEnabled, s.JournalRetention)
	}
	if s.MetricsTextfile != "/var/lib/node_exporter/textfile/tether.prom" {
		t.Errorf("MetricsTextfile = %q", s.MetricsTextfile)
	}
}

func TestLoadHCL_Env(t *testing.T) {
	t.Setenv("TETHER_TEST_RULESET", "/srv/rules.v4")

	cfg, err := LoadHCL([]byte(`ruleset = env.TETHER_TEST_RULESET`), "tether.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}
	if cfg.Ruleset != "/srv/rules.v4" {
		t.Errorf("Ruleset = %q, want /srv/rules.v4", cfg.Ruleset)
	}
}

func TestLoadHCL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		hcl  string
	}{
		{"syntax", `timeout = `},
		{"unknown attribute", `colour = "blue"`},
		{"wrong type", `timeout = "soon"`},
		{"unsupported version", `schema_version = "9.0"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tt.hcl), "tether.hcl")
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("LoadHCL() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.hcl"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	s, err := cfg.Apply(Defaults())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if s.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default", s.Timeout)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.hcl")
	if err := os.WriteFile(path, []byte("timeout = 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	s, _ := cfg.Apply(Defaults())
	if s.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", s.Timeout)
	}
}
