package tracer

import (
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/system"
)

type traceeState int

const (
	traceeRunning traceeState = iota
	traceeStopped
	traceeDead
)

func (s traceeState) String() string {
	switch s {
	case traceeRunning:
		return "running"
	case traceeStopped:
		return "stopped"
	case traceeDead:
		return "dead"
	}
	return "?????"
}

// tracee is the tracer-side state for one traced process. The process-tree
// node lives on after the tracee is gone; this struct doesn't.
type tracee struct {
	pid   int
	state traceeState

	// The syscall number from the current entry-stop, or system.SyscallNone
	// outside a syscall. This is how entry-stops are told apart from
	// exit-stops: the two wait statuses are identical.
	syscall int

	// A signal waiting to be injected at the next resume (0 for none).
	signal int

	proc *proctree.Process

	// The in-flight blocking call (a wait4/waitid we instrumented at its
	// entry-stop and will finalize at its exit-stop).
	blocking blockingCall
}

func newTracee(pid int, proc *proctree.Process) *tracee {
	return &tracee{
		pid:     pid,
		state:   traceeStopped,
		syscall: system.SyscallNone,
		proc:    proc,
	}
}

// stateName is what the list command shows: the blocking call's verb while
// one is in flight, the tracee state while alive, the process state after.
func (t *tracee) stateName() string {
	if t.blocking != nil {
		return t.blocking.verb()
	}
	if t.state == traceeDead {
		return t.proc.State().String()
	}
	return t.state.String()
}

type leader struct {
	execed bool
}
