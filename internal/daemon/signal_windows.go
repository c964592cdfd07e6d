//go:build windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

func setSysProcAttr(_ *exec.Cmd) {}

// Windows has no SIGTERM delivery for arbitrary processes; both paths kill.
func terminate(pid int) { kill(pid) }

func kill(pid int) {
	if p, err := os.FindProcess(pid); err == nil {
		_ = p.Kill()
	}
}

func reraise(_ syscall.Signal) {
	os.Exit(1)
}
