//go:build windows

package session

import (
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {}

// terminateProcess kills the process; Windows has no SIGTERM.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
