//go:build !windows

package process

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kill sends sig to the process group led by pid, falling back to pid alone.
// A process that is already gone counts as success.
func Kill(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	err = syscall.Kill(pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
}

// PidSignalable returns true if a process with given pid exists (or EPERM).
func PidSignalable(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// ParseSignal maps names like "SIGKILL", "kill" or "9" to a signal.
func ParseSignal(s string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "SIG") {
	case "", "KILL", "9":
		return syscall.SIGKILL, nil
	case "TERM", "15":
		return syscall.SIGTERM, nil
	case "INT", "2":
		return syscall.SIGINT, nil
	case "QUIT", "3":
		return syscall.SIGQUIT, nil
	case "HUP", "1":
		return syscall.SIGHUP, nil
	}
	return 0, fmt.Errorf("unsupported signal %q", s)
}
