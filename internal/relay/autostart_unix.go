//go:build !windows

package relay

import "syscall"

// detachedProcAttr puts the relay in its own session so it outlives the
// terminal that started it.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
