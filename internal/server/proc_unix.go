//go:build unix

package server

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in its own process group so that wrappers such as
// "sh -c" or a package manager take their children down with them.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
