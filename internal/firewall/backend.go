package firewall

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable means the kernel lacks the feature the backend drives.
// It is not retriable: no amount of waiting makes the module appear.
var ErrUnavailable = errors.New("firewall backend unavailable in the running kernel")

// Family is the address family a backend operates on.
type Family string

const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
	FamilyInet Family = "inet"
)

// Backend names.
const (
	BackendIPTables = "iptables"
	BackendNFT      = "nft"
)

// Backend is the save/apply primitive pair that serializes and loads the
// protected ruleset. Implementations never retry: each call runs the
// underlying command exactly once.
type Backend interface {
	// Name returns the backend name (iptables, nft).
	Name() string
	// Family returns the address family.
	Family() Family
	// Target identifies the protected state for locking, e.g. "iptables-ipv4".
	Target() string
	// Commands lists the executables the backend needs.
	Commands() []string
	// DefaultRuleset is the well-known ruleset path used when none is given.
	DefaultRuleset() string
	// Save returns the current ruleset serialization.
	Save(ctx context.Context) ([]byte, error)
	// Apply loads the ruleset file at path.
	Apply(ctx context.Context, path string) error
	// Restore loads a previously saved serialization.
	Restore(ctx context.Context, snapshot []byte) error
	// Probe inspects the environment after a failed Save. It returns
	// ErrUnavailable when kernel support is definitely absent, and nil when
	// support is present or cannot be determined.
	Probe(ctx context.Context) error
}

// Directive names a backend in a form that survives a process boundary.
// The watchdog rebuilds its restore primitive from it.
type Directive struct {
	Backend string `json:"backend"`
	Family  Family `json:"family"`
}

func (d Directive) String() string {
	return d.Backend + "-" + string(d.Family)
}

// Options configures backend construction.
type Options struct {
	Runner   CommandRunner
	ProcRoot string // defaults to /proc
	// KernelProbe overrides the nft netlink probe (tests).
	KernelProbe func() error
}

// ParseFamily accepts ipv4/4/inet4, ipv6/6/inet6 and inet.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4", "4", "inet4", "":
		return FamilyIPv4, nil
	case "ipv6", "6", "inet6":
		return FamilyIPv6, nil
	case "inet":
		return FamilyInet, nil
	}
	return "", fmt.Errorf("unknown address family %q", s)
}

// New resolves the backend for a directive.
func New(d Directive, opts Options) (Backend, error) {
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}

	switch d.Backend {
	case BackendIPTables, "":
		if d.Family == FamilyInet {
			return nil, fmt.Errorf("iptables backend does not support family %q (use ipv4 or ipv6)", d.Family)
		}
		return newIPTables(d.Family, opts), nil
	case BackendNFT, "nftables":
		return newNFT(opts), nil
	}
	return nil, fmt.Errorf("unknown firewall backend %q", d.Backend)
}

// DirectiveOf returns the directive that rebuilds b.
func DirectiveOf(b Backend) Directive {
	return Directive{Backend: b.Name(), Family: b.Family()}
}
