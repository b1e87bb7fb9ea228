//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	jobRegistry                  sync.Map
	kernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGenerateConsoleCtrlEvent = kernel32.NewProc("GenerateConsoleCtrlEvent")
)

const ctrlBreakEvent = 1

const defaultSignal = syscall.SIGTERM

// setProcAttr starts the child in a new process group so console control
// events can target it alone.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// parseSignal accepts the names meaningful on Windows. Interrupt-style
// signals become a console break event; everything else terminates.
func parseSignal(name string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG") {
	case "", "TERM":
		return syscall.SIGTERM, nil
	case "INT":
		return syscall.SIGINT, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "HUP", "QUIT":
		return syscall.SIGTERM, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}

// setupJobObject places the process in a kill-on-close job object so the
// whole tree can be terminated at once.
func setupJobObject(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(cmd.Process.Pid))
	if err != nil {
		windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		windows.CloseHandle(job)
		return err
	}

	jobRegistry.Store(cmd.Process.Pid, job)
	return nil
}

// cleanupJobObject closes the job object of a reaped process.
func cleanupJobObject(pid int) {
	if val, ok := jobRegistry.LoadAndDelete(pid); ok {
		windows.CloseHandle(val.(windows.Handle))
	}
}

// signalTree asks the process group to stop. Interrupt and terminate map
// to CTRL_BREAK; a kill request terminates the tree.
func signalTree(pid int, descendants []int32, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return killTree(pid, descendants)
	}
	ret, _, err := procGenerateConsoleCtrlEvent.Call(uintptr(ctrlBreakEvent), uintptr(pid))
	if ret == 0 {
		return err
	}
	return nil
}

// killTree terminates the job object, falling back to killing each process.
func killTree(pid int, descendants []int32) error {
	if val, ok := jobRegistry.Load(pid); ok {
		if err := windows.TerminateJobObject(val.(windows.Handle), 1); err == nil {
			return nil
		}
	}

	for _, d := range descendants {
		if p, err := os.FindProcess(int(d)); err == nil {
			_ = p.Kill()
		}
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func isProcessAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}

func isNoSuchProcess(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) || errors.Is(err, syscall.EINVAL) {
		return true
	}
	return os.IsNotExist(err) || errors.Is(err, os.ErrProcessDone)
}

// processGroupID returns pid; Windows has no Unix-style process groups.
func processGroupID(pid int) int {
	return pid
}
