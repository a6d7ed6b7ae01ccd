// Package procmem opens a read handle onto another running process and performs
// bounded byte-range reads of its address space. Reads never retry internally;
// failures surface to the caller, who decides whether to reopen on the next tick.
package procmem

import "errors"

var (
	// ErrProcessNotFound means no running process matched the configured name.
	ErrProcessNotFound = errors.New("process not found")
	// ErrReadFault wraps an OS-level failure to read the requested range.
	ErrReadFault = errors.New("process memory read fault")
)

// Process is an open handle onto another process's address space. The address
// space is not assumed stable across target restarts; callers re-open and
// re-resolve addresses after a fault.
type Process interface {
	// ReadAt fills buf from the target's address space starting at addr.
	// A short read is a fault; buf is not partially trusted on error.
	ReadAt(addr uintptr, buf []byte) error
	Pid() int
	Close() error
}

// OpenFunc matches Open so callers can inject a fake target in tests.
type OpenFunc func(processName string) (Process, error)
