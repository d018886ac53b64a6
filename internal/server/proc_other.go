//go:build !unix

package server

import (
	"os"
	"os/exec"
	"syscall"
)

func detach(*exec.Cmd) {}

func signalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if sig == syscall.SIGKILL {
		return p.Kill()
	}

	return p.Signal(sig)
}
