//go:build linux

package cmd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// SetProcessName renames the calling thread's comm (what ps and top show),
// so a detached watchdog is recognisable as tether-watchdog.
func SetProcessName(name string) error {
	if len(name) > 15 {
		name = name[:15]
	}
	bytes := append([]byte(name), 0)
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&bytes[0])), 0, 0, 0)
}
