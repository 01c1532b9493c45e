//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// KillGroup signals every process in pid's process group.
func KillGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(-pid, sig)
}

// KillPID signals a single process.
func KillPID(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, sig)
}

func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// configureSysProcAttr places the child in a new process group so the whole
// tree can be signaled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
