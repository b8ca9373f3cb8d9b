// Package proctree is the process-lineage model: one node per traced
// process, each carrying an append-only event log. The tracer mutates the
// tree through the Notify* methods; the diagram builder and the commands
// only ever read it.
package proctree

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	fterrors "github.com/forktrace/forktrace/pkg/errors"
	"github.com/forktrace/forktrace/pkg/system"
)

// State is a process's lifecycle state. The only legal transitions are
// Alive -> Zombie -> Reaped and Alive -> Zombie -> Orphaned.
type State int

const (
	StateAlive State = iota
	StateZombie
	StateReaped
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateZombie:
		return "zombie"
	case StateReaped:
		return "reaped"
	case StateOrphaned:
		return "orphaned"
	}
	return "?????"
}

// Consecutive failed execs with matching argv and basename get collapsed
// into a single event when this is enabled (it hides libc's $PATH search).
var execMerging atomic.Bool

func init() {
	execMerging.Store(true)
}

func SetExecMergingEnabled(enabled bool) {
	execMerging.Store(enabled)
}

func ExecMergingEnabled() bool {
	return execMerging.Load()
}

// Process is a single node in the tree. A child is kept alive by its
// parent's ForkEvent; Parent() is a back-reference only and must never be
// used to traverse ownership.
type Process struct {
	pid    int
	parent *Process
	events []Event
	state  State
	killed bool

	// The source location reported by the injection header, waiting to be
	// attached to the next fork/exec/reap event.
	location *SourceLocation

	// Name and args before any exec, inherited from the parent's most
	// recent successful exec (or the parent's own initial values).
	initialName string
	initialArgs []string
}

// NewRootProcess creates a node for a process with no traced parent whose
// program and arguments we know (the leader started by the tracer).
func NewRootProcess(pid int, name string, args []string) *Process {
	return &Process{pid: pid, state: StateAlive, initialName: name, initialArgs: args}
}

// NewChildProcess creates a node for a process forked by a traced parent.
func NewChildProcess(pid int, parent *Process) *Process {
	p := &Process{pid: pid, parent: parent, state: StateAlive}
	if exec := parent.mostRecentExec(-1); exec != nil {
		p.initialName = exec.File()
		p.initialArgs = exec.Args
	} else {
		p.initialName = parent.initialName
		p.initialArgs = parent.initialArgs
	}
	return p
}

func (p *Process) Pid() int       { return p.pid }
func (p *Process) State() State   { return p.state }
func (p *Process) Killed() bool   { return p.killed }
func (p *Process) Reaped() bool   { return p.state == StateReaped }
func (p *Process) Dead() bool     { return p.state != StateAlive }
func (p *Process) Orphaned() bool { return p.state == StateOrphaned }

// Parent is the back-reference to the process that forked us, or nil. It
// exists so events can describe their peer; ownership flows the other way.
func (p *Process) Parent() *Process { return p.parent }

func (p *Process) EventCount() int   { return len(p.events) }
func (p *Process) Event(i int) Event { return p.events[i] }

func (p *Process) String() string {
	return fmt.Sprintf("%d %s", p.pid, p.CommandLine(-1))
}

// mostRecentExec searches backwards for the last successful exec. If
// startIndex is negative all events are searched; otherwise the search
// begins at the event preceding startIndex.
func (p *Process) mostRecentExec(startIndex int) *ExecEvent {
	if len(p.events) == 0 || startIndex == 0 {
		return nil
	}
	if startIndex < 0 {
		startIndex = len(p.events)
	}
	for i := startIndex - 1; i >= 0; i-- {
		if exec, ok := p.events[i].(*ExecEvent); ok && exec.Succeeded() {
			return exec
		}
	}
	return nil
}

// CommandLine reconstructs "name [ args... ]" as of the given event index
// (0 means the initial command line, negative means now).
func (p *Process) CommandLine(eventIndex int) string {
	name, args := p.initialName, p.initialArgs
	if exec := p.mostRecentExec(eventIndex); exec != nil {
		name, args = exec.File(), exec.Args
	}
	return fmt.Sprintf("%s [ %s ]", name, strings.Join(args, " "))
}

// addEvent appends to the log, which is only legal while the process is
// alive. If consumeLocation is set, the pending source location (if any)
// moves into the event.
func (p *Process) addEvent(event Event, consumeLocation bool) error {
	if p.state != StateAlive {
		return fterrors.NewProcessTreeError(
			"addEvent(%s) called when state is %s", event.String(), p.state)
	}
	if consumeLocation && p.location != nil {
		event.setLocation(p.location)
		p.location = nil
		log.Infof("%s @ %s", event.String(), event.Location().String())
	} else {
		log.Infof("%s", event.String())
	}
	p.events = append(p.events, event)
	return nil
}

// NotifyWaiting records the start of a wait call. If the previous event is
// a wait that failed with ERESTARTSYS and the parameters match, the two are
// merged: the signal interrupted the call and the kernel is retrying it.
func (p *Process) NotifyWaiting(waitedID int, nohang bool) error {
	if n := len(p.events); n > 0 {
		if wait, ok := p.events[n-1].(*WaitEvent); ok && wait.Err == system.ERESTARTSYS {
			if wait.WaitedID != waitedID || wait.Nohang != nohang {
				return fterrors.NewProcessTreeError(
					"NotifyWaiting(%d, nohang=%v) after interrupted wait with different parameters (%d, %v)",
					waitedID, nohang, wait.WaitedID, wait.Nohang)
			}
			log.Debugf("(%d) merging event for restarted wait call", p.pid)
			wait.Err = 0
			return nil
		}
	}
	return p.addEvent(&WaitEvent{
		baseEvent: baseEvent{owner: p},
		WaitedID:  waitedID,
		Nohang:    nohang,
	}, true)
}

// NotifyFailedWait marks the most recent WaitEvent as failed. error may be
// 0 for a WNOHANG wait that found nothing.
func (p *Process) NotifyFailedWait(errno int) error {
	for i := len(p.events) - 1; i >= 0; i-- {
		if wait, ok := p.events[i].(*WaitEvent); ok {
			if wait.Err != 0 {
				return fterrors.NewProcessTreeError(
					"NotifyFailedWait(%d): the previous WaitEvent already failed", errno)
			}
			wait.Err = errno
			log.Infof("%s", wait.String())
			return nil
		}
	}
	return fterrors.NewProcessTreeError(
		"NotifyFailedWait(%d) couldn't find the wait event that failed", errno)
}

// NotifyReaped promotes the pending WaitEvent into a ReapEvent in place and
// moves the child into the Reaped state.
func (p *Process) NotifyReaped(child *Process) error {
	if child.state != StateZombie {
		return fterrors.NewProcessTreeError(
			"NotifyReaped(%s) called on non-zombie process", child.String())
	}
	for i := len(p.events) - 1; i >= 0; i-- {
		if wait, ok := p.events[i].(*WaitEvent); ok {
			if wait.Err != 0 {
				return fterrors.NewProcessTreeError(
					"NotifyReaped(%s) called when the last WaitEvent failed", child.String())
			}
			child.state = StateReaped
			reap := &ReapEvent{
				baseEvent: baseEvent{owner: p, loc: wait.Location()},
				Child:     child,
				Wait:      wait,
			}
			wait.setLocation(nil)
			p.events[i] = reap
			log.Infof("%s", reap.String())
			return nil
		}
	}
	return fterrors.NewProcessTreeError(
		"NotifyReaped(%s) couldn't find the wait event that led to the reap", child.String())
}

// NotifyForked appends a ForkEvent with this process as the parent.
func (p *Process) NotifyForked(child *Process) error {
	return p.addEvent(&ForkEvent{baseEvent: baseEvent{owner: p}, Child: child}, true)
}

// NotifyExec records an exec attempt (errcode 0 for success). Consecutive
// failed attempts for the same basename and argv are folded into the
// previous ExecEvent when merging is enabled.
func (p *Process) NotifyExec(file string, args []string, errcode int) error {
	if n := len(p.events); n > 0 && ExecMergingEnabled() {
		if exec, ok := p.events[n-1].(*ExecEvent); ok && !exec.Succeeded() {
			sameArgs := equalArgs(exec.Args, args)
			sameName := filepath.Base(file) == filepath.Base(exec.File())
			if sameArgs && sameName {
				// Almost certainly libc searching $PATH: fold this attempt
				// into the existing event.
				exec.Calls = append(exec.Calls, ExecCall{File: file, Errcode: errcode})
				str := exec.Calls[len(exec.Calls)-1].describe(exec)
				if loc := exec.Location(); loc != nil {
					log.Infof("%s @ %s", str, loc.String())
				} else {
					log.Infof("%s", str)
				}
				return nil
			}
		}
	}
	return p.addEvent(&ExecEvent{
		baseEvent: baseEvent{owner: p},
		Calls:     []ExecCall{{File: file, Errcode: errcode}},
		Args:      args,
	}, true)
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NotifyEnded transitions Alive -> Zombie based on a wait status. When the
// process was killed and the most recent event is a SignalEvent for the
// same signal, that event is promoted in place to killed=true instead of a
// new event being appended.
func (p *Process) NotifyEnded(status unix.WaitStatus) error {
	if !status.Exited() && !status.Signaled() {
		return fterrors.NewProcessTreeError(
			"NotifyEnded(%d) called with a status that isn't a death", int(status))
	}
	if status.Exited() {
		err := p.addEvent(&ExitEvent{baseEvent: baseEvent{owner: p}, Status: status.ExitStatus()}, false)
		if err != nil {
			return err
		}
		// Must go after addEvent, which rejects events on non-Alive nodes.
		p.state = StateZombie
		return nil
	}

	signal := int(status.Signal())
	if n := len(p.events); n > 0 {
		if event, ok := p.events[n-1].(*SignalEvent); ok && event.Signal == signal {
			event.Killed = true
			p.killed = true
			log.Infof("%s", event.String())
			p.state = StateZombie
			return nil
		}
	}
	err := p.addEvent(&SignalEvent{baseEvent: baseEvent{owner: p}, Signal: signal, Killed: true}, false)
	if err != nil {
		return err
	}
	p.state = StateZombie
	p.killed = true
	return nil
}

// NotifySignaled records the delivery of a signal that hasn't (yet) killed
// the process.
func (p *Process) NotifySignaled(sender, signal int) error {
	return p.addEvent(&SignalEvent{
		baseEvent: baseEvent{owner: p},
		Origin:    sender,
		Signal:    signal,
	}, false)
}

// NotifySentSignal records a signal send. When dest is a distinct process
// in the tree matching killedID, a linked pair of KillEvents sharing one
// KillInfo is appended to both ends; otherwise the sender gets a single
// RaiseEvent. If the receiver already died (SIGKILL lands before we see a
// syscall-exit-stop), the receiver's KillEvent is inserted before its death
// event.
func NotifySentSignal(killedID int, source, dest *Process, signal int, toThread bool) error {
	if dest != nil && dest != source && dest.pid == killedID {
		info := &KillInfo{Source: source, Dest: dest, Signal: signal, ToThread: toThread}
		err := source.addEvent(&KillEvent{baseEvent: baseEvent{owner: source}, Info: info, Sender: true}, true)
		if err != nil {
			return err
		}
		// The receiver's event bypasses addEvent: the receiver may already
		// be dead, and the pair was already logged by the sender side.
		recv := &KillEvent{baseEvent: baseEvent{owner: dest}, Info: info, Sender: false}
		if dest.Dead() {
			if len(dest.events) == 0 {
				return fterrors.NewProcessTreeError(
					"NotifySentSignal: dead receiver %d has no events", dest.pid)
			}
			last := len(dest.events) - 1
			dest.events = append(dest.events, dest.events[last])
			dest.events[last] = recv
		} else {
			dest.events = append(dest.events, recv)
		}
		return nil
	}
	return source.addEvent(&RaiseEvent{
		baseEvent: baseEvent{owner: source},
		KilledID:  killedID,
		Signal:    signal,
		ToThread:  toThread,
	}, true)
}

// NotifyOrphaned transitions Zombie -> Orphaned (the parent chain died
// without reaping; the sub-reaper got it instead).
func (p *Process) NotifyOrphaned() error {
	if p.state != StateZombie {
		return fterrors.NewProcessTreeError(
			"NotifyOrphaned() called on a process that wasn't a zombie")
	}
	p.state = StateOrphaned
	return nil
}

// UpdateLocation stores a source location to be consumed by the next
// fork/exec/reap event.
func (p *Process) UpdateLocation(loc SourceLocation) {
	log.Debugf("%d got updated location %s", p.pid, loc.String())
	p.location = &loc
}

// DeathEvent returns the event that ended this process. Only valid on dead
// processes with at least one event.
func (p *Process) DeathEvent() Event {
	return p.events[len(p.events)-1]
}

// PrintTree writes the process and its events (recursing into forks) in an
// indented tree format.
func (p *Process) PrintTree(w io.Writer, indent int) {
	fmt.Fprintf(w, "%sprocess %d\n", strings.Repeat("    ", indent), p.pid)
	for _, event := range p.events {
		printTree(w, event, indent+1)
	}
}
