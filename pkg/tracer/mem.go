package tracer

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
)

// Tracee memory I/O. Built on PTRACE_PEEKDATA/PTRACE_POKEDATA, which only
// move whole machine words; the poke path read-modify-writes the trailing
// word so bytes we weren't asked to touch survive. (process_vm_readv would
// save context switches, but we move tens of bytes at a time and peek/poke
// needs no extra capabilities.)
//
// Convention for every function here:
//   ok=true,  err=nil  - success
//   ok=false, err=nil  - the tracee no longer exists (ESRCH); reaping it is
//                        left to the caller
//   err is *IoFault    - the tracee supplied an unreadable/unwritable
//                        address (EFAULT/EIO); callers usually recover by
//                        letting the tracee's own syscall fail
//   any other err      - a SystemError; something is genuinely wrong

const wordSize = 8

func classifyMemErr(err error, addr uintptr, cause string) (bool, error) {
	if err == nil {
		return true, nil
	}
	errno, ok := err.(unix.Errno)
	if !ok {
		return false, fterrors.NewSystemError(err, cause)
	}
	switch errno {
	case unix.ESRCH:
		return false, nil
	case unix.EFAULT, unix.EIO:
		return false, &fterrors.IoFault{Errno: errno, Addr: addr}
	}
	return false, fterrors.NewSystemError(errno, cause)
}

// copyFromTracee fills dest from the tracee's memory at src.
func copyFromTracee(pid int, dest []byte, src uintptr) (bool, error) {
	_, err := unix.PtracePeekData(pid, src, dest)
	return classifyMemErr(err, src, "ptrace(PTRACE_PEEKDATA)")
}

// copyToTracee writes src into the tracee's memory at dest.
func copyToTracee(pid int, dest uintptr, src []byte) (bool, error) {
	_, err := unix.PtracePokeData(pid, dest, src)
	return classifyMemErr(err, dest, "ptrace(PTRACE_POKEDATA)")
}

// memsetTracee sets n bytes at dest to value.
func memsetTracee(pid int, dest uintptr, value byte, n int) (bool, error) {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = value
	}
	return copyToTracee(pid, dest, buf)
}

// copyStringFromTracee reads a NUL-terminated string starting at src, one
// word at a time.
func copyStringFromTracee(pid int, src uintptr) (string, bool, error) {
	var result []byte
	var word [wordSize]byte
	for addr := src; ; addr += wordSize {
		if ok, err := copyFromTracee(pid, word[:], addr); !ok || err != nil {
			return "", ok, err
		}
		for _, b := range word {
			if b == 0 {
				return string(result), true, nil
			}
			result = append(result, b)
		}
	}
}

// copyStringArrayFromTracee reads a NULL-terminated array of C string
// pointers (e.g. an execve argv) starting at argv.
func copyStringArrayFromTracee(pid int, argv uintptr) ([]string, bool, error) {
	var args []string
	var word [wordSize]byte
	for i := 0; ; i++ {
		addr := argv + uintptr(i)*wordSize
		if ok, err := copyFromTracee(pid, word[:], addr); !ok || err != nil {
			return nil, ok, err
		}
		ptr := uintptr(binary.LittleEndian.Uint64(word[:]))
		if ptr == 0 {
			return args, true, nil
		}
		arg, ok, err := copyStringFromTracee(pid, ptr)
		if !ok || err != nil {
			return nil, ok, err
		}
		args = append(args, arg)
	}
}
