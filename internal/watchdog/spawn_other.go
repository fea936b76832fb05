//go:build !linux
// +build !linux

package watchdog

import "context"

// ProcessSpawner is only implemented on Linux.
type ProcessSpawner struct {
	Executable string
	LogPath    string
	Env        []string
}

func (s *ProcessSpawner) Spawn(ctx context.Context, p Params) (Handle, error) {
	return nil, ErrUnsupported
}

// Terminate is only implemented on Linux.
func Terminate(ctx context.Context, pid int) error {
	return ErrUnsupported
}
