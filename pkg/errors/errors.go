// Package errors defines the error taxonomy shared by the tracer, the
// process model and the command surface. Everything that can go wrong falls
// into one of a small number of typed buckets so that callers can decide
// what is fatal, what drops a single tracee, and what is recovered locally.
package errors

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SystemError means an OS call failed. Cause names the syscall and the call
// site (e.g. "ptrace(PTRACE_SETOPTIONS)"). A SystemError during startup
// aborts the start path; elsewhere it is caught and logged at the command
// boundary.
type SystemError struct {
	Errno unix.Errno
	Cause string
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cause, e.Errno.Error())
}

func NewSystemError(errno error, cause string) *SystemError {
	if en, ok := errno.(unix.Errno); ok {
		return &SystemError{Errno: en, Cause: cause}
	}
	return &SystemError{Errno: unix.EIO, Cause: fmt.Sprintf("%s (%v)", cause, errno)}
}

// BadTraceError means the ptrace protocol did something we did not expect
// (wrong stop kind, event at the wrong time, reaping a non-zombie). The
// offending tracee gets dropped; the tracer keeps going.
type BadTraceError struct {
	Pid int
	Msg string
}

func (e *BadTraceError) Error() string {
	return fmt.Sprintf("bad trace (pid=%d): %s", e.Pid, e.Msg)
}

func NewBadTraceError(pid int, msg string) *BadTraceError {
	return &BadTraceError{Pid: pid, Msg: msg}
}

// ProcessTreeError means an event notification violated the process model's
// own invariants (event appended to a dead process, reap of a non-zombie,
// orphaning of a non-zombie). It indicates a tracer bug: surfaced and
// logged, but the step loop continues.
type ProcessTreeError struct {
	Msg string
}

func (e *ProcessTreeError) Error() string {
	return "process tree: " + e.Msg
}

func NewProcessTreeError(format string, args ...interface{}) *ProcessTreeError {
	return &ProcessTreeError{Msg: fmt.Sprintf(format, args...)}
}

// ParseError means a number/bool/command argument didn't parse. Caught at
// the command boundary and printed.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return e.Msg
}

func NewParseError(format string, args ...interface{}) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// OptionError means CLI parsing failed; the program exits 1.
type OptionError struct {
	Msg string
}

func (e *OptionError) Error() string {
	return e.Msg
}

func NewOptionError(format string, args ...interface{}) *OptionError {
	return &OptionError{Msg: fmt.Sprintf(format, args...)}
}

// IoFault is EFAULT or EIO coming out of tracee memory I/O: the tracee
// handed a syscall a bad pointer. Always recovered locally by letting the
// tracee's own syscall fail.
type IoFault struct {
	Errno unix.Errno
	Addr  uintptr
}

func (e *IoFault) Error() string {
	return fmt.Sprintf("tracee memory fault at 0x%x: %s", e.Addr, e.Errno.Error())
}

// IsIoFault reports whether err is a tracee memory fault.
func IsIoFault(err error) bool {
	_, ok := err.(*IoFault)
	return ok
}
