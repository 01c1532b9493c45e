//go:build windows

package process

import (
	"os/exec"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// KillGroup has no group semantics on Windows; it terminates pid.
func KillGroup(pid int, sig syscall.Signal) error {
	return KillPID(pid, sig)
}

func KillPID(pid int, _ syscall.Signal) error {
	if pid <= 0 {
		return syscall.EINVAL
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

func processExists(pid int) bool {
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

func configureSysProcAttr(*exec.Cmd) {}
