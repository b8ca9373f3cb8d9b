package tracer

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
	"github.com/forktrace/forktrace/pkg/system"
)

// Register access for x86_64. Everything here follows the same convention
// as the memory helpers: (ok=false, err=nil) means the tracee vanished
// (ESRCH) and reaping it is left to the caller; any other ptrace failure is
// a SystemError.

var pageSize = uintptr(os.Getpagesize())

func classifyRegsErr(err error, cause string) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errno, ok := err.(unix.Errno); ok && errno == unix.ESRCH {
		return false, nil
	}
	return false, fterrors.NewSystemError(err, cause)
}

// currentSyscall reads the syscall number and arguments at a
// syscall-entry-stop.
func currentSyscall(pid int) (num int, args [system.SyscallArgMax]uint64, ok bool, err error) {
	var regs unix.PtraceRegs
	ok, err = classifyRegsErr(unix.PtraceGetRegs(pid, &regs), "ptrace(PTRACE_GETREGS)")
	if !ok || err != nil {
		return 0, args, ok, err
	}
	num = int(int64(regs.Orig_rax))
	args[0] = regs.Rdi
	args[1] = regs.Rsi
	args[2] = regs.Rdx
	args[3] = regs.R10
	args[4] = regs.R8
	args[5] = regs.R9
	return num, args, true, nil
}

// syscallReturnValue reads the return value at a syscall-exit-stop.
func syscallReturnValue(pid int) (uint64, bool, error) {
	var regs unix.PtraceRegs
	ok, err := classifyRegsErr(unix.PtraceGetRegs(pid, &regs), "ptrace(PTRACE_GETREGS)")
	if !ok || err != nil {
		return 0, ok, err
	}
	return regs.Rax, true, nil
}

// setSyscallArg overwrites one syscall argument at a syscall-entry-stop.
func setSyscallArg(pid int, val uint64, argIndex int) (bool, error) {
	var regs unix.PtraceRegs
	ok, err := classifyRegsErr(unix.PtraceGetRegs(pid, &regs), "ptrace(PTRACE_GETREGS)")
	if !ok || err != nil {
		return ok, err
	}
	switch argIndex {
	case 0:
		regs.Rdi = val
	case 1:
		regs.Rsi = val
	case 2:
		regs.Rdx = val
	case 3:
		regs.R10 = val
	case 4:
		regs.R8 = val
	case 5:
		regs.R9 = val
	default:
		return false, fterrors.NewSystemError(unix.EINVAL, "setSyscallArg")
	}
	return classifyRegsErr(unix.PtraceSetRegs(pid, &regs), "ptrace(PTRACE_SETREGS)")
}

// setSyscallNumber rewrites the syscall number at a syscall-entry-stop.
// Rewriting to system.SyscallNone makes the kernel fail the call, which is
// how banned syscalls are neutralized.
func setSyscallNumber(pid int, num int) (bool, error) {
	var regs unix.PtraceRegs
	ok, err := classifyRegsErr(unix.PtraceGetRegs(pid, &regs), "ptrace(PTRACE_GETREGS)")
	if !ok || err != nil {
		return ok, err
	}
	regs.Orig_rax = uint64(int64(num))
	return classifyRegsErr(unix.PtraceSetRegs(pid, &regs), "ptrace(PTRACE_SETREGS)")
}

// resultScratchAddr picks an address in the tracee we can scribble on when
// it passed NULL for a wait result: the frame pointer rounded down to the
// page start. Dodgy, but plenty of margin for a handful of bytes, and it
// avoids mapping pages into someone else's address space.
func resultScratchAddr(pid int) (uintptr, bool, error) {
	var regs unix.PtraceRegs
	ok, err := classifyRegsErr(unix.PtraceGetRegs(pid, &regs), "ptrace(PTRACE_GETREGS)")
	if !ok || err != nil {
		return 0, ok, err
	}
	return uintptr(regs.Rbp) &^ (pageSize - 1), true, nil
}

// siginfo mirrors the start of the kernel's siginfo_t (128 bytes). Only the
// fields up to si_pid/si_uid matter to us.
type siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	_     int32
	Pid   int32
	Uid   uint32
	_     [104]byte
}

// getSigInfo queries the details of the signal that caused a
// signal-delivery-stop.
func getSigInfo(pid int) (*siginfo, bool, error) {
	var si siginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO,
		uintptr(pid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if errno != 0 {
		if errno == unix.ESRCH {
			return nil, false, nil
		}
		return nil, false, fterrors.NewSystemError(errno, "ptrace(PTRACE_GETSIGINFO)")
	}
	return &si, true, nil
}
