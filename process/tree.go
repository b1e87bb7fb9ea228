package process

import (
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
)

// descendantPIDs returns every live descendant of pid, parents before
// children. Processes that moved to their own process group (daemonizing
// dev servers, watchers) are only reachable this way.
func descendantPIDs(pid int) []int32 {
	root, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var out []int32
	seen := map[int32]bool{int32(pid): true}
	queue := []*gopsprocess.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.Children()
		if err != nil {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c.Pid)
			queue = append(queue, c)
		}
	}
	return out
}

// mergePIDs appends the PIDs of b missing from a.
func mergePIDs(a, b []int32) []int32 {
	seen := make(map[int32]bool, len(a))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		if !seen[p] {
			a = append(a, p)
			seen[p] = true
		}
	}
	return a
}

// startedBefore reports whether the live process pid was created no later
// than t (plus a second of clock slack). It guards orphan cleanup against
// PIDs that were reused by unrelated processes.
func startedBefore(pid int, t time.Time) bool {
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	created, err := p.CreateTime()
	if err != nil {
		return false
	}
	return !time.UnixMilli(created).After(t.Add(time.Second))
}
