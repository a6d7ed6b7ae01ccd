//go:build linux

package procmem

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type linuxProcess struct {
	pid int
	mem *os.File
}

// Open resolves the target by comm name and opens /proc/<pid>/mem.
func Open(processName string) (Process, error) {
	pid, err := findPid(processName)
	if err != nil {
		return nil, err
	}
	mem, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, fmt.Errorf("open mem of pid %d: %w", pid, err)
	}
	return &linuxProcess{pid: pid, mem: mem}, nil
}

func findPid(name string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("scan /proc: %w", err)
	}
	// /proc/<pid>/comm is truncated to 15 chars, so match on the prefix.
	want := name
	if len(want) > 15 {
		want = want[:15]
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(comm)) == want {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
}

func (p *linuxProcess) ReadAt(addr uintptr, buf []byte) error {
	n, err := p.mem.ReadAt(buf, int64(addr))
	if err != nil {
		return fmt.Errorf("%w: %d bytes at %#x: %v", ErrReadFault, len(buf), addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read %d/%d at %#x", ErrReadFault, n, len(buf), addr)
	}
	return nil
}

func (p *linuxProcess) Pid() int { return p.pid }

func (p *linuxProcess) Close() error { return p.mem.Close() }
