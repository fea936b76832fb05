package logging

import (
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Network != "unixgram" {
		t.Errorf("Expected network unixgram, got %s", cfg.Network)
	}
	if cfg.Address != "/dev/log" {
		t.Errorf("Expected address /dev/log, got %s", cfg.Address)
	}
	if cfg.Tag != GetProcessName() {
		t.Errorf("Expected tag %s, got %s", GetProcessName(), cfg.Tag)
	}
	if cfg.Facility != FacilityAuth || cfg.Severity != SeverityNotice {
		t.Errorf("Expected auth.notice, got facility %d severity %d", cfg.Facility, cfg.Severity)
	}
}

func TestNewSyslogWriter_Unreachable(t *testing.T) {
	cfg := SyslogConfig{
		Network: "unixgram",
		Address: filepath.Join(t.TempDir(), "missing.sock"),
	}

	if _, err := NewSyslogWriter(cfg); err == nil {
		t.Error("Expected error for missing syslog socket")
	}
}

func TestSyslogWriter_Write(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Network: "udp", Address: pc.LocalAddr().String(), Tag: "tether-test", Facility: 4})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("rollback complete\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	msg := string(buf[:n])
	if !strings.HasPrefix(msg, "<37>") {
		t.Errorf("expected priority <37> (auth.notice), got %q", msg)
	}
	if strings.HasSuffix(msg, "\n") {
		t.Errorf("trailing newline should be trimmed for udp: %q", msg)
	}
	if !strings.Contains(msg, "tether-test[") || !strings.Contains(msg, "rollback complete") {
		t.Errorf("unexpected syslog message %q", msg)
	}
}

func TestSyslogWriter_WriteAfterClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Network: "udp", Address: pc.LocalAddr().String()})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	w.Close()

	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed syslog writer")
	}
}
