//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the command in its own process group so a timeout
// kills the whole tree (package managers and test runners fork workers).
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}
