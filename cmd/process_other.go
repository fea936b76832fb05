//go:build !linux

package cmd

// SetProcessName is a no-op outside Linux.
func SetProcessName(name string) error {
	return nil
}
