//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr places the daemon in its own process group so signals
// aimed at it do not leak to the host application and vice versa.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the daemon's process group, falling back to
// the single pid when the group signal fails.
func terminate(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
}

// kill force-kills the daemon's process group.
func kill(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

func reraise(sig syscall.Signal) {
	_ = syscall.Kill(syscall.Getpid(), sig)
}
