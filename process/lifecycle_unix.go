//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

const defaultSignal = unix.SIGTERM

// setProcAttr puts the child in its own process group so the whole group
// can be signalled without touching the daemon.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// parseSignal resolves a signal name ("SIGINT", "int") or number. An empty
// name selects SIGTERM.
func parseSignal(name string) (syscall.Signal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultSignal, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}

	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}
	if sig := unix.SignalNum(upper); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}

// signalTree sends sig to the process group led by pid and to every listed
// descendant. Only the group signal's error is reported.
func signalTree(pid int, descendants []int32, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	for _, d := range descendants {
		_ = unix.Kill(int(d), sig)
	}
	return err
}

// killTree sends SIGKILL to the process group and descendants.
func killTree(pid int, descendants []int32) error {
	return signalTree(pid, descendants, unix.SIGKILL)
}

func isProcessAlive(pid int) bool {
	return unix.Kill(pid, syscall.Signal(0)) == nil
}

func isNoSuchProcess(err error) bool {
	return errors.Is(err, unix.ESRCH)
}

// processGroupID returns the process group ID for a given PID.
func processGroupID(pid int) int {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}

// setupJobObject is a no-op on Unix.
func setupJobObject(cmd *exec.Cmd) error {
	return nil
}

// cleanupJobObject is a no-op on Unix.
func cleanupJobObject(pid int) {
}
