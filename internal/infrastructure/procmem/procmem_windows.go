//go:build windows

package procmem

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

type winProcess struct {
	pid    int
	handle windows.Handle
}

// Open resolves the target by executable name and opens it with read-only
// access rights.
func Open(processName string) (Process, error) {
	pid, err := findPid(processName)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenProcess(
		windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION,
		false,
		uint32(pid),
	)
	if err != nil {
		return nil, fmt.Errorf("open pid %d: %w", pid, err)
	}
	return &winProcess{pid: pid, handle: h}, nil
}

func findPid(name string) (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return 0, fmt.Errorf("process snapshot walk: %w", err)
	}
	for {
		exe := windows.UTF16ToString(entry.ExeFile[:])
		if strings.EqualFold(exe, name) {
			return int(entry.ProcessID), nil
		}
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
}

func (p *winProcess) ReadAt(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	var done uintptr
	err := windows.ReadProcessMemory(p.handle, addr, &buf[0], uintptr(len(buf)), &done)
	if err != nil {
		return fmt.Errorf("%w: %d bytes at %#x: %v", ErrReadFault, len(buf), addr, err)
	}
	if done != uintptr(len(buf)) {
		return fmt.Errorf("%w: short read %d/%d at %#x", ErrReadFault, done, len(buf), addr)
	}
	return nil
}

func (p *winProcess) Pid() int { return p.pid }

func (p *winProcess) Close() error { return windows.CloseHandle(p.handle) }
