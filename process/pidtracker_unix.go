//go:build !windows

package process

import "golang.org/x/sys/unix"

// killOrphanProcess kills an orphan process and its process group.
func killOrphanProcess(pid, pgid int) {
	descendants := descendantPIDs(pid)
	if pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	_ = killTree(pid, descendants)
}
