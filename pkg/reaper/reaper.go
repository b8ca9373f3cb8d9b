// Package reaper implements both halves of the orphan-notification
// channel. The forktrace-reaper helper binary marks itself as a child
// subreaper, runs the tracer as its child, and streams every pid it reaps
// down a pipe; the tracer side listens on that pipe and feeds the pids into
// the tracer's orphan queue.
//
// The stream framing is the reaped pid as raw little-endian int32, matching
// the kernel's pid_t on the one architecture we support.
package reaper

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// The tracer finds the pipe on this fd when running under the reaper.
const pipeFdEnv = "FORKTRACE_REAPER_FD"

const pidSize = 4

// Run is the helper binary's main loop: become a subreaper, start the
// tracer child with the read end of a fresh notification pipe, then reap
// until the kernel says there's nothing left to wait for, streaming every
// reaped pid down the pipe. The tracer's own pid is swallowed (its exit
// status becomes ours instead).
func Run(tracerArgv []string) int {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		log.Errorf("reaper: prctl: %v", err)
		return 1
	}

	r, out, err := os.Pipe()
	if err != nil {
		log.Errorf("reaper: pipe: %v", err)
		return 1
	}

	cmd := exec.Command(tracerArgv[0], tracerArgv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{r} // becomes fd 3 in the child
	cmd.Env = append(os.Environ(), pipeFdEnv+"=3")
	if err := cmd.Start(); err != nil {
		log.Errorf("reaper: starting tracer: %v", err)
		return 1
	}
	r.Close()
	tracerPid := cmd.Process.Pid

	// A dead pipe reader must not kill us mid-reap; write errors are
	// checked instead.
	signal.Ignore(unix.SIGPIPE)

	exitCode := 0
	var buf [pidSize]byte
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err != unix.ECHILD {
				log.Errorf("reaper: wait: %v", err)
				return 1
			}
			break // all descendants are gone
		}
		if pid == tracerPid {
			if status.Exited() {
				exitCode = status.ExitStatus()
			} else if status.Signaled() {
				exitCode = 128 + int(status.Signal())
			}
			continue
		}
		binary.LittleEndian.PutUint32(buf[:], uint32(pid))
		if _, err := out.Write(buf[:]); err != nil {
			// EPIPE just means the tracer is gone; keep reaping quietly.
			if !isEPIPE(err) {
				log.Errorf("reaper: writing pid: %v", err)
				return 1
			}
		}
	}
	return exitCode
}

func isEPIPE(err error) bool {
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno == unix.EPIPE
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// UnderReaper reports whether this process was started by the helper, and
// hands back the notification pipe if so.
func UnderReaper() (*os.File, bool) {
	if os.Getenv(pipeFdEnv) == "" {
		return nil, false
	}
	f := os.NewFile(3, "reaper-pipe")
	if f == nil {
		return nil, false
	}
	// Two things ride on close-on-exec here: tracees must not inherit the
	// pipe, and the reaper's writes must fail with EPIPE once we die.
	unix.CloseOnExec(3)
	return f, true
}

// ReExecUnderReaper replaces the current process with the helper binary,
// which will run us again as its child. Never returns on success. The
// helper is looked up next to our own executable first, then on $PATH.
func ReExecUnderReaper() error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	helper, err := findHelper(self)
	if err != nil {
		return err
	}
	argv := append([]string{helper, self}, os.Args[1:]...)
	return unix.Exec(helper, argv, os.Environ())
}

func findHelper(self string) (string, error) {
	local := self + "-reaper"
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	return exec.LookPath("forktrace-reaper")
}

// Listen reads orphan pids off the pipe until EOF or Close, calling notify
// for each one. Meant to run on its own goroutine; closing the file is how
// it gets cancelled.
func Listen(pipe *os.File, notify func(pid int)) {
	var buf [pidSize]byte
	for {
		if _, err := io.ReadFull(pipe, buf[:]); err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				log.Debugf("reaper.Listen: %v", err)
			}
			return
		}
		notify(int(int32(binary.LittleEndian.Uint32(buf[:]))))
	}
}

// DieWithParent asks the kernel to SIGHUP us if the reaper dies, so a dead
// reaper can't leave the tracer (and via PTRACE_O_EXITKILL, the tracees)
// dangling.
func DieWithParent() {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGHUP), 0, 0, 0); err != nil {
		log.Warnf("reaper: prctl(PR_SET_PDEATHSIG): %v", err)
	}
}
