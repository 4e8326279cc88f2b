//go:build windows

package runner

import "os/exec"

// setupProcessGroup is a no-op on Windows; context cancellation still kills
// the direct child process.
func setupProcessGroup(_ *exec.Cmd) {}
