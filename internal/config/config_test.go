package config

import (
	"errors"
	"testing"
)

func TestApply_Nil(t *testing.T) {
	var c *Config
	s, err := c.Apply(Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if s.Backend != "iptables" || s.Family != "ipv4" {
		t.Errorf("defaults = %s/%s", s.Backend, s.Family)
	}
	if len(s.DependentServices) != 1 || s.DependentServices[0] != "fail2ban" {
		t.Errorf("DependentServices = %v", s.DependentServices)
	}
}

func TestApply_EmptyServiceListDisablesPausing(t *testing.T) {
	cfg, err := LoadHCL([]byte(`dependent_services = []`), "tether.hcl")
	if err != nil {
		t.Fatal(err)
	}
	s, err := cfg.Apply(Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.DependentServices) != 0 {
		t.Errorf("DependentServices = %v, want none", s.DependentServices)
	}
}

func TestApply_NegativeTimeout(t *testing.T) {
	n := -5
	_, err := (&Config{Timeout: &n}).Apply(Defaults())
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Apply() error = %v, want ErrInvalid", err)
	}
}

func TestApply_JournalDisabled(t *testing.T) {
	off := false
	s, err := (&Config{Journal: &JournalConfig{Enabled: &off}}).Apply(Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if s.JournalEnabled {
		t.Error("JournalEnabled = true, want false")
	}
}

func TestSettings_Journal(t *testing.T) {
	s := Defaults()
	s.StateDir = "/var/lib/tether"
	if got := s.Journal(); got != "/var/lib/tether/tether.db" {
		t.Errorf("Journal() = %q", got)
	}
	s.JournalPath = "/tmp/j.db"
	if got := s.Journal(); got != "/tmp/j.db" {
		t.Errorf("Journal() = %q", got)
	}
}
