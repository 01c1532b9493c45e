// Package process spawns agent processes in their own process group and
// provides the OS-level helpers used to tear them down.
package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrNotStarted is returned by operations on a process that never started.
var ErrNotStarted = errors.New("process not started")

type Process struct {
	spec     Spec
	cmd      *exec.Cmd
	status   Status
	mu       sync.Mutex
	out      io.WriteCloser
	waitDone chan struct{} // closed by monitor when cmd.Wait returns
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// configureCmd builds the *exec.Cmd: workdir, environment, combined output
// writer and process group attributes.
func (r *Process) configureCmd() (*exec.Cmd, error) {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()

	if spec.Interpreter == "" {
		return nil, fmt.Errorf("process %q: empty interpreter", spec.Name)
	}
	// #nosec G204 -- the interpreter comes from the operator-owned agent record
	cmd := exec.Command(spec.Interpreter, spec.Args...)
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)
	if spec.LogFile != "" {
		w, err := spec.Rotation.Writer(spec.LogFile)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.out = w
		r.mu.Unlock()
		cmd.Stdout = w
		cmd.Stderr = w
	} else {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		cmd.Stdout = null
		cmd.Stderr = null
	}
	return cmd, nil
}

// Start launches the process and a monitor goroutine that reaps it. The
// process is never restarted.
func (r *Process) Start() error {
	cmd, err := r.configureCmd()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		r.closeWriter()
		return err
	}
	done := make(chan struct{})
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = done
	r.status = Status{Name: r.spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	r.mu.Unlock()

	go r.monitor(cmd, done)
	return nil
}

func (r *Process) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	if err != nil {
		r.status.ExitErr = err.Error()
	}
	if cmd.ProcessState != nil {
		r.status.ExitCode = cmd.ProcessState.ExitCode()
	}
	r.mu.Unlock()
	r.closeWriter()
	close(done)
}

func (r *Process) closeWriter() {
	r.mu.Lock()
	w := r.out
	r.out = nil
	r.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// PID is 0 before Start.
func (r *Process) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.PID
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed once the process has been reaped. It is nil before Start.
func (r *Process) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitDone
}

// Alive reports whether the process is still running and not a zombie.
func (r *Process) Alive() bool {
	r.mu.Lock()
	running := r.status.Running
	pid := r.status.PID
	r.mu.Unlock()
	if !running || pid <= 0 {
		return false
	}
	return Alive(pid)
}

// Stop sends SIGTERM to the group, waits up to wait, then escalates to
// SIGKILL.
func (r *Process) Stop(wait time.Duration) error {
	pid, done := r.PID(), r.Done()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return nil
	default:
	}
	_ = KillGroup(pid, syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	return r.Kill()
}

// Kill sends SIGKILL to the process group and waits briefly for the reap.
func (r *Process) Kill() error {
	pid, done := r.PID(), r.Done()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return nil
	default:
	}
	if err := KillGroup(pid, syscall.SIGKILL); err != nil {
		_ = KillPID(pid, syscall.SIGKILL)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("process %d not reaped after SIGKILL", pid)
	}
	return nil
}

// Alive checks pid with signal 0. On Linux a zombie counts as dead.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return processExists(pid)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
