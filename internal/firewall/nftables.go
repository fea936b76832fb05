package firewall

import (
	"bytes"
	"context"
	"fmt"
)

// nft drives `nft list ruleset` / `nft -f`. The nft ruleset is a single
// inet-family state, so Family is always inet.
type nft struct {
	runner CommandRunner
	probe  func() error
}

func newNFT(opts Options) *nft {
	probe := opts.KernelProbe
	if probe == nil {
		probe = probeNFTablesKernel
	}
	return &nft{runner: opts.Runner, probe: probe}
}

func (n *nft) Name() string           { return BackendNFT }
func (n *nft) Family() Family         { return FamilyInet }
func (n *nft) Target() string         { return BackendNFT + "-" + string(FamilyInet) }
func (n *nft) Commands() []string     { return []string{"nft"} }
func (n *nft) DefaultRuleset() string { return "/etc/nftables.conf" }

func (n *nft) Save(ctx context.Context) ([]byte, error) {
	out, err := n.runner.Output(ctx, "nft", "list", "ruleset")
	if err != nil {
		return nil, fmt.Errorf("nft list ruleset: %w", err)
	}
	return out, nil
}

// Apply hands the file path to nft so relative includes resolve.
func (n *nft) Apply(ctx context.Context, path string) error {
	if err := n.runner.Run(ctx, "nft", "-f", path); err != nil {
		return fmt.Errorf("nft -f %s: %w", path, err)
	}
	return nil
}

// Restore flushes and reloads the snapshot in one nft batch, so the kernel
// applies it atomically.
func (n *nft) Restore(ctx context.Context, snapshot []byte) error {
	if err := n.runner.RunInput(ctx, RestoreScript(snapshot), "nft", "-f", "-"); err != nil {
		return fmt.Errorf("nft restore: %w", err)
	}
	return nil
}

func (n *nft) Probe(ctx context.Context) error {
	return n.probe()
}

// RestoreScript prefixes a `nft list ruleset` dump with a flush.
func RestoreScript(snapshot []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(snapshot) + 16)
	buf.WriteString("flush ruleset\n")
	buf.Write(snapshot)
	if len(snapshot) > 0 && snapshot[len(snapshot)-1] != '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
