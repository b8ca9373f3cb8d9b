package tracer

import (
	"os"
	"os/exec"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
)

// The ptrace options every tracee gets.
const traceOptions = unix.PTRACE_O_EXITKILL | // tracees die with us
	unix.PTRACE_O_TRACESYSGOOD | // keep syscall-stops distinct from SIGTRAP
	unix.PTRACE_O_TRACEEXEC | // same, for exec
	unix.PTRACE_O_TRACEFORK | // also covers fork-like clone()s
	unix.PTRACE_O_TRACECLONE // fires when pthread_create is called

// startLeader forks a new process group leader and brings it to the point
// where it is stopped, traced with our options, and about to run `program`.
// Must run on the ptrace thread.
//
// Go cannot run code between fork and exec, so the child-side setup of the
// handshake (PTRACE_TRACEME, setpgid) is done by the runtime's fork path
// via SysProcAttr, and the first stop we see is the SIGTRAP the kernel
// raises when the traced child completes its execve. Options are applied at
// that stop, before the program's first instruction runs; every later exec
// arrives as a proper exec event. Exec failures (bad path etc.) surface as
// an errno from StartProcess instead of the exit-status side channel a
// fork-based tracer would need.
func startLeader(program string, argv []string) (int, error) {
	cmd := exec.Command(program)
	cmd.Args = argv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:  true,
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		if sysErr, ok := err.(*os.SyscallError); ok {
			return 0, fterrors.NewSystemError(sysErr.Err, sysErr.Syscall)
		}
		if pathErr, ok := err.(*os.PathError); ok {
			return 0, fterrors.NewSystemError(pathErr.Err, "execve")
		}
		return 0, fterrors.NewSystemError(err, "fork")
	}
	pid := cmd.Process.Pid

	// The child raises SIGTRAP when its execve completes (it inherited
	// PTRACE_TRACEME). Anything else here means the start went sideways.
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		killAndReap(pid)
		return 0, fterrors.NewSystemError(err, "waitpid")
	}
	if !status.Stopped() || status.StopSignal() != unix.SIGTRAP {
		killAndReap(pid)
		return 0, fterrors.NewBadTraceError(pid,
			"expected SIGTRAP stop from new tracee, got: "+diagnose(status))
	}

	if err := unix.PtraceSetOptions(pid, traceOptions); err != nil {
		killAndReap(pid)
		return 0, fterrors.NewSystemError(err, "ptrace(PTRACE_SETOPTIONS)")
	}

	log.Debugf("tracer.startLeader: started %s as pid %d (pgid %d)", program, pid, pid)
	return pid, nil
}

// killAndReap makes sure a half-started tracee doesn't linger as a zombie.
func killAndReap(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
	for {
		if _, err := unix.Wait4(pid, nil, 0, nil); err != nil {
			return
		}
	}
}
