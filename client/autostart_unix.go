//go:build unix

package client

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the daemon in its own process group so signals sent
// to the CLI's terminal do not reach it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
