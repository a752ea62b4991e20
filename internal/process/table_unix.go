//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

var gracefulSignal os.Signal = unix.SIGTERM

func newSysProcAttr() *syscall.SysProcAttr {
	// New session: the agent leads its own process group, detached from the
	// host's group and controlling terminal.
	return &syscall.SysProcAttr{Setsid: true}
}

type systemTable struct {
	snapshotTable
}

// NewSystemTable returns the live process table, read through ps(1) so the
// same code serves Linux and macOS.
func NewSystemTable() ProcessTable {
	return systemTable{snapshotTable{snapshot: psSnapshot, kill: killPID}}
}

func psSnapshot() ([]ProcEntry, error) {
	out, err := exec.Command("ps", "-A", "-o", "pid=", "-o", "ppid=").Output()
	if err != nil {
		return nil, fmt.Errorf("running ps: %w", err)
	}
	return parsePSOutput(out), nil
}

func killPID(pid int) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to kill pid %d", pid)
	}
	return unix.Kill(pid, unix.SIGKILL)
}

// KillGroup sends SIGKILL to every member of process group pgid. This also
// reaches descendants that were reparented away from the root.
func (systemTable) KillGroup(pgid int) error {
	if pgid <= 1 || pgid == unix.Getpgrp() {
		return nil
	}
	err := unix.Kill(-pgid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
