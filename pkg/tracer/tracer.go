// Package tracer is the ptrace event driver. It owns the tracee map, turns
// raw wait statuses into process-tree notifications, mediates the
// fork/exec/wait/kill multi-step ptrace sequences, and copes with tracees
// dying at any step along the way.
package tracer

import (
	"os"
	"os/exec"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/system"
)

func diagnose(status unix.WaitStatus) string {
	return system.DiagnoseWaitStatus(status)
}

// diagnoseBadEvent builds a BadTraceError describing an unexpected wait
// status, probing the tracee's current syscall register when that's safe -
// it's the only clue we get for "expected X, saw Y" bugs.
func diagnoseBadEvent(t *tracee, status unix.WaitStatus, msg string) *fterrors.BadTraceError {
	msg += " (" + diagnose(status) + ")"
	if t.syscall != system.SyscallNone {
		msg += " (syscall=" + system.SyscallName(t.syscall) + ")"
	}
	if system.IsSyscallStop(status) {
		num, _, ok, err := currentSyscall(t.pid)
		switch {
		case err != nil:
			msg += " (got error when probing further)"
		case !ok:
			msg += " (got ESRCH when probing further)"
		default:
			// Careful interpreting this: at an exit-stop the register can
			// hold anything.
			msg += " (reg=" + system.SyscallName(num) + ")"
		}
	}
	return fterrors.NewBadTraceError(t.pid, msg)
}

// Tracer drives every tracee in the session. All ptrace work happens on the
// executor's locked OS thread; the mutex covers the tracee map, the orphan
// queue and the process model against the REPL, the orphan listener and the
// SIGINT nuke.
type Tracer struct {
	mu   sync.Mutex
	exec *executor

	tracees map[int]*tracee
	leaders map[int]*leader

	// Orphan pids reported by the reaper, waiting to be reconciled.
	orphans []int

	// Pids that got recycled before we learnt their previous owner was
	// orphaned. The next orphan notification for such a pid is stale and
	// gets dropped once.
	recycled []int
}

func New() *Tracer {
	return &Tracer{
		exec:    newExecutor(),
		tracees: make(map[int]*tracee),
		leaders: make(map[int]*leader),
	}
}

// Close shuts down the ptrace thread. Any remaining tracees die with us
// (PTRACE_O_EXITKILL).
func (tr *Tracer) Close() {
	tr.exec.stop()
}

// Start launches a program as a new traced process-group leader and returns
// its process node once the leader is set up and has execed. The path is
// resolved against $PATH like execvp would.
func (tr *Tracer) Start(program string, argv []string) (*proctree.Process, error) {
	path, err := exec.LookPath(program)
	if err != nil {
		return nil, fterrors.NewSystemError(unix.ENOENT, "exec: "+program)
	}

	var proc *proctree.Process
	err = tr.exec.do(func() error {
		pid, err := startLeader(path, argv)
		if err != nil {
			return err
		}
		tr.mu.Lock()
		defer tr.mu.Unlock()
		proc = proctree.NewRootProcess(pid, path, argv)
		tr.leaders[pid] = &leader{}
		tr.addTracee(pid, proc)
		// The leader is stopped just past its execve; the exec event
		// itself predates our ptrace options, so record it from what we
		// know. Every exec after this one is observed from tracee memory.
		if err := proc.NotifyExec(path, argv, 0); err != nil {
			return err
		}
		tr.leaders[pid].execed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Step resumes every stopped tracee, drains the orphan queue, then blocks
// until the world settles again (everything stopped or everything dead).
// Returns true while any tracees remain in the map.
func (tr *Tracer) Step() (bool, error) {
	var more bool
	err := tr.exec.do(func() error {
		var err error
		more, err = tr.step()
		return err
	})
	return more, err
}

func (tr *Tracer) step() (bool, error) {
	tr.mu.Lock()
	if len(tr.tracees) == 0 {
		tr.mu.Unlock()
		return false, nil
	}
	for _, t := range tr.tracees {
		tr.resume(t)
	}
	if err := tr.collectOrphans(); err != nil {
		tr.mu.Unlock()
		return len(tr.tracees) > 0, err
	}
	tr.mu.Unlock()

	// Only block in wait if something can actually produce an event, or
	// we'd hang forever.
	for tr.anyRunning() {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}

		tr.mu.Lock()
		t, ok := tr.tracees[pid]
		if !ok {
			log.Warnf("got wait status %q for unknown pid %d", diagnose(status), pid)
			tr.mu.Unlock()
			continue
		}
		if err := tr.handleWaitNotification(t, status); err != nil {
			tr.recoverTracee(t, err)
		}
		if err := tr.collectOrphans(); err != nil {
			tr.mu.Unlock()
			return len(tr.tracees) > 0, err
		}
		done := tr.allDead()
		settled := !tr.anyRunningLocked()
		tr.mu.Unlock()

		if done {
			break
		}
		if settled {
			return true, nil
		}
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.tracees) > 0, nil
}

// recoverTracee implements the BadTraceError policy: drop the tracee, keep
// the session. Model invariant violations are tracer bugs - log them and
// keep going. Anything else is logged at error level with the tracee's pid
// and the step carries on.
func (tr *Tracer) recoverTracee(t *tracee, err error) {
	switch err.(type) {
	case *fterrors.BadTraceError:
		log.Errorf("%v; dropping tracee %d", err, t.pid)
		delete(tr.tracees, t.pid)
	case *fterrors.ProcessTreeError:
		log.Errorf("%v (this is a forktrace bug)", err)
	default:
		log.Errorf("tracing %d: %v", t.pid, err)
	}
}

func (tr *Tracer) anyRunning() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.anyRunningLocked()
}

func (tr *Tracer) anyRunningLocked() bool {
	for _, t := range tr.tracees {
		if t.state == traceeRunning {
			return true
		}
	}
	return false
}

func (tr *Tracer) allDead() bool {
	for _, t := range tr.tracees {
		if t.state != traceeDead {
			return false
		}
	}
	return true
}

// addTracee registers a pid. A pid that's already present means the kernel
// recycled it faster than the reaper could tell us about the old owner;
// remember that so the stale orphan notification gets dropped.
func (tr *Tracer) addTracee(pid int, proc *proctree.Process) *tracee {
	if _, ok := tr.tracees[pid]; ok {
		delete(tr.tracees, pid)
		tr.recycled = append(tr.recycled, pid)
		log.Warnf("pid %d was recycled before its orphaning was reported", pid)
	}
	t := newTracee(pid, proc)
	tr.tracees[pid] = t
	return t
}

// NotifyOrphan queues an orphaned pid reported by the reaper. Called from
// the pipe-listener goroutine.
func (tr *Tracer) NotifyOrphan(pid int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.orphans = append(tr.orphans, pid)
}

// CheckOrphans drains the orphan queue outside the step loop (the REPL
// calls this between commands so `list` etc. stay accurate).
func (tr *Tracer) CheckOrphans() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.collectOrphans()
}

func (tr *Tracer) collectOrphans() error {
	for len(tr.orphans) > 0 {
		pid := tr.orphans[0]
		tr.orphans = tr.orphans[1:]

		if i := indexOf(tr.recycled, pid); i >= 0 {
			tr.recycled = append(tr.recycled[:i], tr.recycled[i+1:]...)
			continue // already removed; this notification is stale
		}

		t, ok := tr.tracees[pid]
		if !ok {
			log.Warnf("unknown pid %d was orphaned", pid)
			continue
		}
		if t.state != traceeDead {
			return fterrors.NewBadTraceError(pid, "an alive tracee was orphaned")
		}

		log.Infof("%d orphaned", pid)
		if err := t.proc.NotifyOrphaned(); err != nil {
			return err
		}
		delete(tr.tracees, pid)
	}
	return nil
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Nuke kills every leader's process group with SIGKILL. Called from the
// SIGINT watcher; the step loop then drains to an empty map naturally.
func (tr *Tracer) Nuke() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.tracees) == 0 {
		return
	}
	log.Info("nuking all tracees with SIGKILL")
	for pid := range tr.leaders {
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
}

// TraceesAlive reports whether any tracee hasn't died yet.
func (tr *Tracer) TraceesAlive() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, t := range tr.tracees {
		if t.state != traceeDead {
			return true
		}
	}
	return false
}

// TraceeInfo is a row for the list command.
type TraceeInfo struct {
	Pid         int
	State       string
	CommandLine string
}

// Tracees snapshots the current tracee table.
func (tr *Tracer) Tracees() []TraceeInfo {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	infos := make([]TraceeInfo, 0, len(tr.tracees))
	for _, t := range tr.tracees {
		infos = append(infos, TraceeInfo{
			Pid:         t.pid,
			State:       t.stateName(),
			CommandLine: t.proc.CommandLine(-1),
		})
	}
	return infos
}

/******************************************************************************
 * EVENT TRACING LOGIC
 *****************************************************************************/

func (tr *Tracer) handleWaitNotification(t *tracee, status unix.WaitStatus) error {
	if t.state == traceeDead {
		return diagnoseBadEvent(t, status, "got event for dead tracee")
	}
	if status.Exited() || status.Signaled() {
		if err := t.proc.NotifyEnded(status); err != nil {
			return err
		}
		if _, isLeader := tr.leaders[t.pid]; isLeader {
			log.Infof("leader %d ended", t.pid)
			// We are this process's parent, so the ptrace notification
			// doubles as us reaping it. The leaders entry stays: the pid
			// doubles as the pgid and Nuke wants it.
			delete(tr.tracees, t.pid)
		} else {
			// Keep the entry until a reap or orphan notification arrives.
			t.state = traceeDead
		}
		return nil
	}

	if !status.Stopped() {
		return diagnoseBadEvent(t, status, "tracee hasn't ended but also hasn't stopped")
	}
	t.state = traceeStopped
	return tr.handleStopped(t, status)
}

func (tr *Tracer) handleStopped(t *tracee, status unix.WaitStatus) error {
	switch {
	case system.IsSyscallStop(status):
		if t.syscall == system.SyscallNone {
			num, args, ok, err := currentSyscall(t.pid)
			if err != nil {
				return err
			}
			if !ok {
				return tr.expectEnded(t)
			}
			return tr.handleSyscallEntry(t, num, args)
		}
		return tr.handleSyscallExit(t)

	case system.IsForkEvent(status), system.IsCloneEvent(status),
		system.IsExecEvent(status), system.IsExitEvent(status):
		// These only legally appear inside the driver-initiated handlers
		// for the corresponding syscalls.
		return diagnoseBadEvent(t, status, "got event at weird time")
	}
	return tr.handleSignalStop(t, int(status.StopSignal()))
}

func (tr *Tracer) handleSyscallEntry(t *tracee, num int, args [system.SyscallArgMax]uint64) error {
	t.syscall = num
	log.Debugf("%d entered syscall %s", t.pid, system.SyscallName(num))

	switch num {
	case system.SyscallFork:
		return tr.handleFork(t)

	case system.SyscallClone:
		if system.CloneLikeAFork(args) {
			return tr.handleFork(t)
		}
		// A thread-style clone. We don't model threads, so the call gets
		// banned like the others below.

	case system.SyscallExecve:
		return tr.handleExec(t, uintptr(args[0]), uintptr(args[1]))

	case system.SyscallExecveat:
		return tr.handleExec(t, uintptr(args[1]), uintptr(args[2]))

	case system.SyscallWait4:
		return tr.initiateWait(t, newWait4Call(
			int(int32(args[0])), uintptr(args[1]), int(args[2])))

	case system.SyscallWaitid:
		return tr.initiateWait(t, newWaitIDCall(
			int(args[0]), int(args[1]), uintptr(args[2]), int(args[3])))

	case system.SyscallKill:
		return tr.handleKill(t, int(int32(args[0])), int(args[1]), false)

	case system.SyscallTkill:
		return tr.handleKill(t, int(int32(args[0])), int(args[1]), true)

	case system.SyscallTgkill:
		return tr.handleKill(t, int(int32(args[1])), int(args[2]), true)

	case system.SyscallFake:
		return tr.handleNewLocation(t, uint32(args[0]), uintptr(args[1]), uintptr(args[2]))

	case system.SyscallPtrace, system.SyscallSetpgid, system.SyscallSetsid, system.SyscallVfork:
		// Fall through to the ban below.

	default:
		tr.resume(t)
		return nil
	}

	log.Errorf("tracee %d tried to execute banned syscall %s",
		t.pid, system.SyscallName(num))
	if ok, err := setSyscallNumber(t.pid, system.SyscallNone); !ok || err != nil {
		if err != nil {
			return err
		}
		return tr.expectEnded(t)
	}
	tr.resume(t)
	return nil
}

func (tr *Tracer) handleSyscallExit(t *tracee) error {
	if t.blocking != nil {
		// This is the exit-stop for a blocking call we instrumented at its
		// entry-stop - finish that.
		ok, err := t.blocking.finalize(tr, t)
		if err != nil {
			return err
		}
		if !ok {
			log.Debugf("%d died on exit from blocking call", t.pid)
			return tr.expectEnded(t)
		}
		t.blocking = nil
	}
	log.Debugf("%d exited syscall %s", t.pid, system.SyscallName(t.syscall))
	tr.resume(t)
	t.syscall = system.SyscallNone
	return nil
}

func (tr *Tracer) handleSignalStop(t *tracee, signal int) error {
	if t.signal != 0 {
		return fterrors.NewBadTraceError(t.pid,
			"tracee delivered a signal when there was already a pending signal")
	}
	if signal == int(unix.SIGTTIN) {
		return fterrors.NewBadTraceError(t.pid,
			"looks like this process tried to read from the terminal, which isn't supported")
	}

	si, ok, err := getSigInfo(t.pid)
	if err != nil {
		return err
	}
	if !ok {
		return tr.expectEnded(t)
	}

	log.Debugf("%d stopped by %s from %d", t.pid, system.SignalName(signal), si.Pid)
	if err := t.proc.NotifySignaled(int(si.Pid), signal); err != nil {
		return err
	}
	t.signal = signal // deliver it at the next resume
	return nil
}

// handleFailedFork runs at the syscall-exit-stop of a fork that didn't
// produce a fork event. ERESTARTNOINTR means a signal interrupted the call
// and the kernel will restart it; any other failure nukes the whole session
// - the deliberate fork-bomb safeguard. Resetting t.syscall is left to the
// caller.
func (tr *Tracer) handleFailedFork(t *tracee) error {
	retval, ok, err := syscallReturnValue(t.pid)
	if err != nil {
		return err
	}
	if !ok {
		return tr.expectEnded(t)
	}

	errno := int(-int64(retval))
	if errno == system.ERESTARTNOINTR {
		// The tracee will retry the fork at its next entry-stop and we get
		// another go at this.
		log.Infof("%d fork interrupted (to be resumed)", t.pid)
		tr.resume(t)
		return nil
	}

	// Exiting kills every tracee via PTRACE_O_EXITKILL, which is exactly
	// the point: if forks are failing, someone is probably fork-bombing
	// themselves.
	log.Errorf("%d failed fork: %s", t.pid, system.ErrnoString(errno))
	log.Errorf("nuking everything with SIGKILL")
	os.Exit(1)
	return nil
}

// handleFork runs at the entry-stop of fork (or a fork-like clone) and sees
// the sequence through: fork event, child's initial SIGSTOP, parent's
// exit-stop.
func (tr *Tracer) handleFork(t *tracee) error {
	if !tr.resume(t) {
		return nil
	}
	status, ok, err := tr.waitForStop(t)
	if !ok || err != nil {
		return err
	}

	if !system.IsForkEvent(status) && !system.IsCloneEvent(status) {
		if !system.IsSyscallStop(status) {
			return diagnoseBadEvent(t, status, "expected syscall-exit-stop after bad fork")
		}
		t.syscall = system.SyscallNone
		return tr.handleFailedFork(t)
	}

	childID, err := unix.PtraceGetEventMsg(t.pid)
	if err != nil {
		if err == unix.ESRCH {
			return tr.expectEnded(t)
		}
		return fterrors.NewSystemError(err, "ptrace(PTRACE_GETEVENTMSG)")
	}

	proc := proctree.NewChildProcess(int(childID), t.proc)
	child := tr.addTracee(int(childID), proc)
	if err := t.proc.NotifyForked(proc); err != nil {
		return err
	}

	// Our ptrace options raise SIGSTOP in the child right after the fork.
	status, ok, err = tr.waitForStop(child)
	if err != nil {
		return err
	}
	if ok && status.StopSignal() != unix.SIGSTOP {
		return diagnoseBadEvent(child, status, "expected SIGSTOP from newly forked tracee")
	}

	// Resume the parent to its syscall-exit-stop.
	if !tr.resume(t) {
		return nil
	}
	status, ok, err = tr.waitForStop(t)
	if !ok || err != nil {
		return err
	}
	if !system.IsSyscallStop(status) {
		return diagnoseBadEvent(t, status, "expected syscall-exit-stop after fork")
	}
	t.syscall = system.SyscallNone
	return nil
}

// handleExec runs at the entry-stop of execve/execveat. The path and argv
// have to be copied out before resuming: on success the old image is gone
// by the next stop.
func (tr *Tracer) handleExec(t *tracee, pathAddr, argvAddr uintptr) error {
	var file string
	var args []string

	args, ok, err := copyStringArrayFromTracee(t.pid, argvAddr)
	if ok && err == nil {
		file, ok, err = copyStringFromTracee(t.pid, pathAddr)
	}
	if err != nil {
		if !fterrors.IsIoFault(err) {
			return err
		}
		// The tracee gave execve bad pointers; carry on and let the exec
		// fail by itself.
	} else if !ok {
		return tr.expectEnded(t)
	}
	file = escaped(file)
	for i, arg := range args {
		args[i] = escaped(arg)
	}

	if !tr.resume(t) {
		return nil
	}
	status, ok, err := tr.waitForStop(t)
	if !ok || err != nil {
		return err
	}

	if !system.IsExecEvent(status) {
		// Exec has failed!
		if !system.IsSyscallStop(status) {
			return diagnoseBadEvent(t, status, "expected a syscall-exit-stop after failed exec")
		}
		t.syscall = system.SyscallNone

		retval, ok, err := syscallReturnValue(t.pid)
		if err != nil {
			return err
		}
		if !ok {
			return tr.expectEnded(t)
		}
		// The failed exec is an event boundary: leave the tracee stopped
		// at its exit-stop so a march ends here.
		return t.proc.NotifyExec(file, args, int(-int64(retval)))
	}

	if !tr.resume(t) {
		return nil
	}
	status, ok, err = tr.waitForStop(t)
	if !ok || err != nil {
		return err
	}
	if !system.IsSyscallStop(status) {
		return diagnoseBadEvent(t, status, "expected syscall-exit-stop after exec")
	}
	t.syscall = system.SyscallNone
	if err := t.proc.NotifyExec(file, args, 0); err != nil {
		return err
	}
	if l, ok := tr.leaders[t.pid]; ok {
		l.execed = true
	}
	return nil
}

func (tr *Tracer) initiateWait(t *tracee, call blockingCall) error {
	ok, err := call.prepare(tr, t)
	if err != nil {
		return err
	}
	if !ok {
		return tr.expectEnded(t)
	}
	t.blocking = call
	return nil
}

func (tr *Tracer) onSentSignal(t *tracee, target, signal int, toThread bool) error {
	var dest *proctree.Process
	if other, ok := tr.tracees[target]; ok {
		dest = other.proc
	}
	return proctree.NotifySentSignal(target, t.proc, dest, signal, toThread)
}

// handleKill runs at the entry-stop of kill/tkill/tgkill.
func (tr *Tracer) handleKill(t *tracee, target, signal int, toThread bool) error {
	if !tr.resume(t) {
		return nil
	}

	// Not using waitForStop here: a tracee that SIGKILLs itself never
	// reaches a syscall-exit-stop, and that's still a valid send.
	var status unix.WaitStatus
	if _, err := wait4Retry(t.pid, &status); err != nil {
		if err == unix.ECHILD {
			return fterrors.NewBadTraceError(t.pid,
				"waited for tracee after it called kill, but it doesn't exist")
		}
		return fterrors.NewSystemError(err, "waitpid")
	}

	if !status.Stopped() {
		if !status.Signaled() || status.Signal() != unix.SIGKILL {
			return diagnoseBadEvent(t, status, "expected tracee to have been SIGKILL'ed")
		}
		if (target == 0 || target == t.pid || target == -t.pid) && signal == int(unix.SIGKILL) {
			// The tracee SIGKILL'ed itself or its own group: a valid send
			// even though there'll never be an exit-stop. (The SIGKILL
			// could in principle have come from elsewhere in the tiny
			// window since the entry-stop; PTRACE_GETSIGINFO can't tell
			// us, since it doesn't work on SIGKILL'ed processes.)
			if err := tr.onSentSignal(t, target, signal, toThread); err != nil {
				return err
			}
		}
		return tr.handleWaitNotification(t, status)
	}

	if !system.IsSyscallStop(status) {
		return diagnoseBadEvent(t, status, "expected syscall-exit-stop after kill")
	}
	t.state = traceeStopped
	t.syscall = system.SyscallNone

	retval, ok, err := syscallReturnValue(t.pid)
	if err != nil {
		return err
	}
	if !ok {
		return tr.expectEnded(t)
	}

	if signal == 0 || retval != 0 {
		tr.resume(t) // a probe (sig 0) or a failed kill: nothing to record
		return nil
	}
	return tr.onSentSignal(t, target, signal, toThread)
}

// handleNewLocation consumes the injection header's fake syscall: the
// tracee is telling us the source location of its next call.
func (tr *Tracer) handleNewLocation(t *tracee, line uint32, funcAddr, fileAddr uintptr) error {
	fn, ok, err := copyStringFromTracee(t.pid, funcAddr)
	if err == nil && ok {
		var file string
		file, ok, err = copyStringFromTracee(t.pid, fileAddr)
		if err == nil && ok {
			t.proc.UpdateLocation(proctree.SourceLocation{File: file, Func: fn, Line: line})
		}
	}
	if err != nil {
		if !fterrors.IsIoFault(err) {
			return err
		}
		// Garbage pointers from the injection macros: ignore the update.
	} else if !ok {
		return tr.expectEnded(t)
	}
	tr.resume(t) // don't want this to interfere with anything
	return nil
}

/******************************************************************************
 * HELPER FUNCTIONS FOR TRACING
 *****************************************************************************/

func wait4Retry(pid int, status *unix.WaitStatus) (int, error) {
	for {
		n, err := unix.Wait4(pid, status, 0, nil)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// waitForStop blocks until the tracee stops. If it dies first, the death is
// handled and ok=false is returned.
func (tr *Tracer) waitForStop(t *tracee) (unix.WaitStatus, bool, error) {
	var status unix.WaitStatus
	if _, err := wait4Retry(t.pid, &status); err != nil {
		if err == unix.ECHILD {
			return status, false, fterrors.NewBadTraceError(t.pid,
				"waited for tracee to stop but it doesn't exist")
		}
		return status, false, fterrors.NewSystemError(err, "waitpid")
	}
	if status.Stopped() {
		t.state = traceeStopped
		return status, true, nil
	}
	return status, false, tr.handleWaitNotification(t, status)
}

// resume continues a stopped tracee to its next stop, delivering any
// pending signal. Returns false if the tracee turned out to be gone; its
// death notification is still queued for the wait loop, so the state is
// marked running either way.
func (tr *Tracer) resume(t *tracee) bool {
	if t.state != traceeStopped {
		return true
	}
	err := unix.PtraceSyscall(t.pid, t.signal)
	t.signal = 0
	t.state = traceeRunning
	if err != nil {
		log.Debugf("resuming %d failed: %v", t.pid, err)
		return false
	}
	return true
}

// expectEnded reaps a tracee we believe has died out from under us (ESRCH
// from some ptrace call), and routes the death through the normal pathway.
func (tr *Tracer) expectEnded(t *tracee) error {
	if t.state == traceeDead {
		return nil
	}
	var status unix.WaitStatus
	if _, err := wait4Retry(t.pid, &status); err != nil {
		if err == unix.ECHILD {
			return fterrors.NewBadTraceError(t.pid,
				"expected tracee to have ended but it doesn't exist")
		}
		return fterrors.NewSystemError(err, "waitpid")
	}
	if !status.Exited() && !status.Signaled() {
		return diagnoseBadEvent(t, status, "expected tracee to have ended, but it hasn't")
	}
	return tr.handleWaitNotification(t, status)
}

// escaped renders a string read from tracee memory with control characters
// and other weirdness escaped, so diagrams and logs stay printable.
func escaped(s string) string {
	out := make([]byte, 0, len(s))
	const hex = "0123456789abcdef"
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			out = append(out, '\\', '\\')
		case c >= 0x20 && c < 0x7f:
			out = append(out, c)
		case c == '\n':
			out = append(out, '\\', 'n')
		case c == '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, '\\', 'x', hex[c>>4], hex[c&0xf])
		}
	}
	return string(out)
}
