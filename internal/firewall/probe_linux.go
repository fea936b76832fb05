//go:build linux

package firewall

import (
	"errors"
	"fmt"

	"github.com/google/nftables"
	"golang.org/x/sys/unix"
)

// probeNFTablesKernel asks the kernel for its nf_tables tables over netlink.
// Protocol/family errors mean nf_tables is missing; anything else
// (EPERM included) is not proof of absence.
func probeNFTablesKernel() error {
	conn, err := nftables.New()
	if err != nil {
		return nil
	}
	if _, err := conn.ListTables(); err != nil {
		if errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.EAFNOSUPPORT) ||
			errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("nf_tables support lacking from the kernel: %w", ErrUnavailable)
		}
	}
	return nil
}
