//go:build windows

package process

// killOrphanProcess kills an orphan process tree. The job object of the
// crashed daemon is gone, so descendants are killed one by one.
func killOrphanProcess(pid, pgid int) {
	_ = killTree(pid, descendantPIDs(pid))
}
