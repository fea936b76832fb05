//go:build !linux

package firewall

import "fmt"

func probeNFTablesKernel() error {
	return fmt.Errorf("nf_tables requires linux: %w", ErrUnavailable)
}
