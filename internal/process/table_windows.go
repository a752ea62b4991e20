//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows has no SIGTERM; the graceful step degrades to a kill.
var gracefulSignal os.Signal = os.Kill

func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// NewSystemTable returns the live process table, read through a toolhelp
// snapshot.
func NewSystemTable() ProcessTable {
	return snapshotTable{snapshot: toolhelpSnapshot, kill: terminatePID}
}

func toolhelpSnapshot() ([]ProcEntry, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("creating process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var entries []ProcEntry
	err = windows.Process32First(snap, &entry)
	for err == nil {
		entries = append(entries, ProcEntry{
			PID:  int(entry.ProcessID),
			PPID: int(entry.ParentProcessID),
		})
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("walking process snapshot: %w", err)
	}
	return entries, nil
}

func terminatePID(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
