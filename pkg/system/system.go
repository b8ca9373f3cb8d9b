// Package system knows about the Linux/x86_64 details the tracer depends
// on: syscall numbers and arity, signal names, ptrace wait-status
// classification, and the kernel-internal errno values that only tracers
// ever get to see.
package system

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Kernel-internal error codes that are only visible to ptracers. They
// indicate that a syscall was interrupted by a signal delivery and will be
// restarted by the kernel. fork reports ERESTARTNOINTR, blocking calls such
// as wait4/waitid report ERESTARTSYS.
const (
	ERESTARTSYS    = 512
	ERESTARTNOINTR = 513
)

// No Linux syscall has more than six arguments.
const SyscallArgMax = 6

// With PTRACE_O_TRACESYSGOOD set, syscall-stops report SIGTRAP with bit 7
// set so they can't be confused with real SIGTRAPs.
const sysGoodBit = 0x80

// ErrnoString is strerror plus the tracer-only restart codes.
func ErrnoString(errno int) string {
	switch errno {
	case 0:
		return "success"
	case ERESTARTSYS:
		return "ERESTARTSYS (interrupted, kernel will restart)"
	case ERESTARTNOINTR:
		return "ERESTARTNOINTR (interrupted, kernel will restart)"
	}
	return unix.Errno(errno).Error()
}

// SignalName returns e.g. "SIGKILL", or "?????" for numbers that don't
// correspond to a signal.
func SignalName(signal int) string {
	name := unix.SignalName(unix.Signal(signal))
	if name == "" {
		return "?????"
	}
	return name
}

// IsSyscallStop reports whether a wait status describes a syscall-entry or
// syscall-exit stop. The two look identical; it's up to the tracer to keep
// track of which one it is expecting.
func IsSyscallStop(status unix.WaitStatus) bool {
	return status.Stopped() && int(status.StopSignal()) == int(unix.SIGTRAP)|sysGoodBit
}

func isEvent(status unix.WaitStatus, event int) bool {
	return status.Stopped() && int(status)>>8 == int(unix.SIGTRAP)|event<<8
}

// IsForkEvent reports a PTRACE_EVENT_FORK stop. Our ptrace options make
// fork-like clones report this event too.
func IsForkEvent(status unix.WaitStatus) bool {
	return isEvent(status, unix.PTRACE_EVENT_FORK)
}

func IsCloneEvent(status unix.WaitStatus) bool {
	return isEvent(status, unix.PTRACE_EVENT_CLONE)
}

func IsExecEvent(status unix.WaitStatus) bool {
	return isEvent(status, unix.PTRACE_EVENT_EXEC)
}

func IsExitEvent(status unix.WaitStatus) bool {
	return isEvent(status, unix.PTRACE_EVENT_EXIT)
}

// CloneLikeAFork reports whether the clone args describe a plain fork: the
// exit signal (the low byte of the flags) is SIGCHLD. The other flag bits,
// including the thread-style sharing ones, are not inspected. Modern libc
// fork() wrappers go through clone, so this is the common path. The flags
// argument is the first clone argument on x86_64.
func CloneLikeAFork(args [SyscallArgMax]uint64) bool {
	return args[0]&0xFF == uint64(unix.SIGCHLD)
}

// DiagnoseWaitStatus renders a wait(2) status into something a human can
// read. Used by BadTraceError diagnoses and the --status flag.
func DiagnoseWaitStatus(status unix.WaitStatus) string {
	switch {
	case status.Exited():
		return fmt.Sprintf("exited with status %d", status.ExitStatus())
	case status.Signaled():
		s := ""
		if status.CoreDump() {
			s = ", core dumped"
		}
		return fmt.Sprintf("killed by %s (%d)%s",
			SignalName(int(status.Signal())), int(status.Signal()), s)
	case IsSyscallStop(status):
		return "syscall-stop (entry or exit)"
	case IsForkEvent(status):
		return "ptrace fork event"
	case IsCloneEvent(status):
		return "ptrace clone event"
	case IsExecEvent(status):
		return "ptrace exec event"
	case IsExitEvent(status):
		return "ptrace exit event"
	case status.Stopped():
		return fmt.Sprintf("stopped by %s (%d)",
			SignalName(int(status.StopSignal())), int(status.StopSignal()))
	case status.Continued():
		return "continued by SIGCONT"
	}
	return fmt.Sprintf("unintelligible wait status 0x%x", int(status))
}
