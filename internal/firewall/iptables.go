package firewall

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ipTables drives iptables-save/iptables-restore (or the ip6tables pair).
type ipTables struct {
	family   Family
	save     string
	restore  string
	runner   CommandRunner
	procRoot string
}

func newIPTables(family Family, opts Options) *ipTables {
	if family == "" {
		family = FamilyIPv4
	}
	prefix := "iptables"
	if family == FamilyIPv6 {
		prefix = "ip6tables"
	}
	return &ipTables{
		family:   family,
		save:     prefix + "-save",
		restore:  prefix + "-restore",
		runner:   opts.Runner,
		procRoot: opts.ProcRoot,
	}
}

func (t *ipTables) Name() string       { return BackendIPTables }
func (t *ipTables) Family() Family     { return t.family }
func (t *ipTables) Target() string     { return BackendIPTables + "-" + string(t.family) }
func (t *ipTables) Commands() []string { return []string{t.save, t.restore} }

func (t *ipTables) DefaultRuleset() string {
	if t.family == FamilyIPv6 {
		return "/etc/iptables/rules.v6"
	}
	return "/etc/iptables/rules.v4"
}

func (t *ipTables) Save(ctx context.Context) ([]byte, error) {
	out, err := t.runner.Output(ctx, t.save)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.save, err)
	}
	return out, nil
}

func (t *ipTables) Apply(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ruleset: %w", err)
	}
	if err := t.runner.RunInput(ctx, data, t.restore); err != nil {
		return fmt.Errorf("%s: %w", t.restore, err)
	}
	return nil
}

func (t *ipTables) Restore(ctx context.Context, snapshot []byte) error {
	if err := t.runner.RunInput(ctx, snapshot, t.restore); err != nil {
		return fmt.Errorf("%s: %w", t.restore, err)
	}
	return nil
}

// Probe looks for the kernel tables the save command reads. Legacy
// iptables exposes /proc/net/ip{,6}_tables_names; iptables-nft needs
// nf_tables. When /proc/modules is unreadable (monolithic kernel) the
// answer is unknown and Probe returns nil.
func (t *ipTables) Probe(ctx context.Context) error {
	names := "ip_tables_names"
	modules := []string{"ip_tables", "iptable_filter", "nf_tables"}
	if t.family == FamilyIPv6 {
		names = "ip6_tables_names"
		modules = []string{"ip6_tables", "ip6table_filter", "nf_tables"}
	}

	if _, err := os.Stat(filepath.Join(t.procRoot, "net", names)); err == nil {
		return nil
	}

	loaded, err := loadedModules(filepath.Join(t.procRoot, "modules"))
	if err != nil {
		return nil
	}
	for _, m := range modules {
		if loaded[m] {
			return nil
		}
	}
	return fmt.Errorf("%s support lacking from the kernel: %w", t.Target(), ErrUnavailable)
}

// loadedModules parses /proc/modules into a set of module names.
func loadedModules(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	loaded := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			loaded[fields[0]] = true
		}
	}
	return loaded, scanner.Err()
}
