package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	nameMu      sync.RWMutex
	processName = "tether"
)

// SetProcessName changes the name printed ahead of the PID on every
// console line and syslog tag ("tether", "tether-watchdog").
func SetProcessName(name string) {
	nameMu.Lock()
	processName = name
	nameMu.Unlock()
}

func GetProcessName() string {
	nameMu.RLock()
	defer nameMu.RUnlock()
	if processName == "" {
		return "tether"
	}
	return processName
}

// ConsoleHandler writes one line per record in a syslog-like layout:
//
//	2025-06-15T12:00:00Z tether[4242]: [info] watchdog: restored snapshot path=/run/...
//
// Groups are flattened.
type ConsoleHandler struct {
	out   io.Writer
	opts  slog.HandlerOptions
	mu    *sync.Mutex
	bound []slog.Attr
}

func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: out, mu: new(sync.Mutex)}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	// component comes out of the attr list and into the prefix; the
	// record's own value wins over a bound one.
	var component string
	attrs := make([]slog.Attr, 0, len(h.bound)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
		} else {
			attrs = append(attrs, a)
		}
		return true
	}
	for _, a := range h.bound {
		collect(a)
	}
	r.Attrs(collect)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b bytes.Buffer
	b.WriteString(ts.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(GetProcessName()))
	b.WriteByte('[')
	b.WriteString(strconv.Itoa(os.Getpid()))
	b.WriteString("]: [")
	b.WriteString(strings.ToLower(r.Level.String()))
	b.WriteString("] ")
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(a.Value.String()))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(b.Bytes())
	return err
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// WithAttrs shares the parent's write mutex so derived loggers never
// interleave partial lines.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := *h
	child.bound = append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &child
}

func (h *ConsoleHandler) WithGroup(string) slog.Handler { return h }
