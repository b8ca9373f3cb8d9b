package tracer

import (
	"encoding/binary"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
)

// blockingCall tracks a blocking syscall across its entry- and exit-stops.
// prepare runs at the entry-stop, finalize at the matching exit-stop. Both
// return ok=false if the tracee died mid-flight (reaping is left to the
// caller). The only blocking calls we instrument are the wait family.
type blockingCall interface {
	prepare(tr *Tracer, t *tracee) (bool, error)
	finalize(tr *Tracer, t *tracee) (bool, error)
	verb() string
}

// waitCall observes a wait4 or waitid, including when the tracee passed
// NULL for the result pointer: in that case we pick a scratch address in
// the tracee, snapshot the bytes there, rewrite the syscall argument to
// point at it, and restore everything once we've read the result out.
type waitCall struct {
	waitedID int // same meaning as the pid argument of waitpid(2)
	nohang   bool

	resultAddr uintptr // result address in the tracee (0 = tracee gave NULL)
	oldData    []byte  // snapshot of the scratch bytes, nil if not scratched
	faulted    bool    // tracee's own result pointer was garbage; hands off

	resultSize int  // bytes of result to track (int vs siginfo_t)
	zeroResult bool // zero the result region before the call runs
	argIndex   int  // which syscall argument holds the result pointer
}

func (w *waitCall) verb() string { return "waiting" }

func (w *waitCall) prepare(tr *Tracer, t *tracee) (bool, error) {
	if w.resultAddr == 0 {
		// The tracee asked for no result. We want one anyway, to find out
		// who got reaped - so borrow some memory from the tracee.
		addr, ok, err := resultScratchAddr(t.pid)
		if !ok || err != nil {
			return ok, err
		}
		w.oldData = make([]byte, w.resultSize)
		ok, err = copyFromTracee(t.pid, w.oldData, addr)
		if err != nil && fterrors.IsIoFault(err) {
			// The scratch page isn't readable. Give up on instrumenting
			// this wait and let the call run (and likely fail) untouched.
			w.faulted = true
			w.oldData = nil
			return true, t.proc.NotifyWaiting(w.waitedID, w.nohang)
		}
		if !ok || err != nil {
			return ok, err
		}
		w.resultAddr = addr
		if ok, err := setSyscallArg(t.pid, uint64(addr), w.argIndex); !ok || err != nil {
			return ok, err
		}
	}

	if w.zeroResult && !w.faulted {
		ok, err := memsetTracee(t.pid, w.resultAddr, 0, w.resultSize)
		if err != nil && fterrors.IsIoFault(err) {
			// The tracee's own result pointer is garbage. The call will
			// fail with EFAULT on its own; don't get in the way.
			w.faulted = true
			ok, err = true, nil
		}
		if !ok || err != nil {
			return ok, err
		}
	}

	return true, t.proc.NotifyWaiting(w.waitedID, w.nohang)
}

// readResult fetches the syscall return value and the result bytes, undoing
// the scratch rewrite if one happened. A faulted call reports just the
// return value.
func (w *waitCall) readResult(t *tracee) (result []byte, retval int64, ok bool, err error) {
	raw, ok, err := syscallReturnValue(t.pid)
	if !ok || err != nil {
		return nil, 0, ok, err
	}
	retval = int64(raw)

	if w.faulted {
		return nil, retval, true, nil
	}

	result = make([]byte, w.resultSize)
	ok, err = copyFromTracee(t.pid, result, w.resultAddr)
	if err != nil && fterrors.IsIoFault(err) {
		log.Debugf("tracer.waitCall: %d result readback faulted", t.pid)
		return nil, retval, true, nil
	}
	if !ok || err != nil {
		return nil, 0, ok, err
	}

	if w.oldData != nil {
		// We borrowed this memory; put it back the way we found it, and
		// restore the syscall argument for good measure.
		if ok, err := copyToTracee(t.pid, w.resultAddr, w.oldData); !ok || err != nil {
			return nil, 0, ok, err
		}
		if ok, err := setSyscallArg(t.pid, 0, w.argIndex); !ok || err != nil {
			return nil, 0, ok, err
		}
	}
	return result, retval, true, nil
}

// onSuccess promotes the pending WaitEvent into a ReapEvent and drops the
// reaped child from the tracee map.
func (w *waitCall) onSuccess(tr *Tracer, t *tracee, reaped int) error {
	child, ok := tr.tracees[reaped]
	if !ok {
		return fterrors.NewBadTraceError(t.pid, "tracee reaped an unknown child")
	}
	if child.state != traceeDead {
		return fterrors.NewBadTraceError(t.pid, "tracee reaped a child that wasn't dead")
	}
	if err := t.proc.NotifyReaped(child.proc); err != nil {
		return err
	}
	delete(tr.tracees, reaped)
	return nil
}

func (w *waitCall) onFailure(t *tracee, errno int) error {
	return t.proc.NotifyFailedWait(errno)
}

// wait4Call instruments wait4 (and thus wait and waitpid). The result is a
// plain int status at argument 1.
type wait4Call struct {
	waitCall
}

func newWait4Call(pid int, statusAddr uintptr, flags int) *wait4Call {
	return &wait4Call{waitCall{
		waitedID:   pid,
		nohang:     flags&unix.WNOHANG != 0,
		resultAddr: statusAddr,
		resultSize: 4,
		zeroResult: false,
		argIndex:   1,
	}}
}

func (w *wait4Call) finalize(tr *Tracer, t *tracee) (bool, error) {
	result, retval, ok, err := w.readResult(t)
	if !ok || err != nil {
		return ok, err
	}
	switch {
	case retval > 0 && result != nil:
		status := unix.WaitStatus(binary.LittleEndian.Uint32(result))
		if status.Exited() || status.Signaled() {
			return true, w.onSuccess(tr, t, int(retval))
		}
	case retval < 0:
		return true, w.onFailure(t, int(-retval))
	}
	return true, nil
}

// waitIDCall instruments waitid. The result is a siginfo_t at argument 2,
// which the kernel doesn't fully overwrite on WNOHANG-and-nothing-happened,
// so it gets zeroed first and si_pid tells us whether anything was reaped.
type waitIDCall struct {
	waitCall
}

// toWait4ID translates waitid's (idtype, id) into wait4's pid encoding. An
// unknown idtype becomes a value that no process can match; the call then
// fails with EINVAL on its own and no reap is recorded.
func toWait4ID(idtype int, id int) int {
	switch idtype {
	case unix.P_ALL:
		return -1
	case unix.P_PID:
		return id
	case unix.P_PGID:
		return -id
	default:
		return math.MaxInt32
	}
}

const siginfoSize = 128

func newWaitIDCall(idtype, id int, infoAddr uintptr, flags int) *waitIDCall {
	return &waitIDCall{waitCall{
		waitedID:   toWait4ID(idtype, id),
		nohang:     flags&unix.WNOHANG != 0,
		resultAddr: infoAddr,
		resultSize: siginfoSize,
		zeroResult: true,
		argIndex:   2,
	}}
}

// siginfo_t layout offsets (x86_64): si_code at 8, si_pid at 16.
const (
	siCodeOffset = 8
	siPidOffset  = 16
)

// si_code values for SIGCHLD (asm-generic/siginfo.h). Not exposed by
// golang.org/x/sys/unix, so defined here directly.
const (
	cldExited = 1
	cldKilled = 2
	cldDumped = 3
)

func (w *waitIDCall) finalize(tr *Tracer, t *tracee) (bool, error) {
	result, retval, ok, err := w.readResult(t)
	if !ok || err != nil {
		return ok, err
	}
	switch {
	case retval == 0 && result != nil:
		code := int32(binary.LittleEndian.Uint32(result[siCodeOffset:]))
		pid := int32(binary.LittleEndian.Uint32(result[siPidOffset:]))
		if pid != 0 && (code == cldExited || code == cldKilled || code == cldDumped) {
			return true, w.onSuccess(tr, t, int(pid))
		}
	case retval < 0:
		return true, w.onFailure(t, int(-retval))
	}
	return true, nil
}
