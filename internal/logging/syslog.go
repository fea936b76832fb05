package logging

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Syslog facilities and severities used by tether. Firewall changes are
// security relevant, so they go to auth.
const (
	FacilityAuth   = 4
	SeverityNotice = 5
)

var errSyslogClosed = errors.New("syslog writer closed")

// SyslogConfig says where and how to send RFC 3164 messages.
type SyslogConfig struct {
	Network  string // unixgram for /dev/log, or udp/tcp for a remote collector
	Address  string
	Tag      string
	Facility int
	Severity int
}

// DefaultSyslogConfig targets the local /dev/log socket, tagged with the
// current process name.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Network:  "unixgram",
		Address:  "/dev/log",
		Tag:      GetProcessName(),
		Facility: FacilityAuth,
		Severity: SeverityNotice,
	}
}

// SyslogWriter sends every Write as one datagram (or one line on tcp).
type SyslogWriter struct {
	mu   sync.Mutex
	conn net.Conn
	cfg  SyslogConfig
	pri  string
}

func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	def := DefaultSyslogConfig()
	if cfg.Network == "" {
		cfg.Network = def.Network
	}
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Tag == "" {
		cfg.Tag = def.Tag
	}
	if cfg.Severity == 0 {
		cfg.Severity = def.Severity
	}

	conn, err := net.DialTimeout(cfg.Network, cfg.Address, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s %s: %w", cfg.Network, cfg.Address, err)
	}
	pri := "<" + strconv.Itoa(cfg.Facility*8+cfg.Severity) + ">"
	return &SyslogWriter{conn: conn, cfg: cfg, pri: pri}, nil
}

// Write frames p as "<pri>Mmm dd hh:mm:ss tag[pid]: msg".
func (w *SyslogWriter) Write(p []byte) (int, error) {
	var b strings.Builder
	b.WriteString(w.pri)
	b.WriteString(time.Now().Format(time.Stamp))
	b.WriteByte(' ')
	b.WriteString(w.cfg.Tag)
	b.WriteByte('[')
	b.WriteString(strconv.Itoa(os.Getpid()))
	b.WriteString("]: ")
	b.WriteString(strings.TrimRight(string(p), "\n"))
	if w.cfg.Network == "tcp" {
		b.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return 0, errSyslogClosed
	}
	if _, err := w.conn.Write([]byte(b.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
