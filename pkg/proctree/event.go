package proctree

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/forktrace/forktrace/pkg/screen"
	"github.com/forktrace/forktrace/pkg/system"
)

// Colours used when events draw themselves onto the diagram.
const (
	exitedColour     = screen.GreenBold
	killedColour     = screen.RedBold
	signalColour     = screen.Yellow
	execColour       = screen.BlueBold
	badExecColour    = screen.Red
	badWaitColour    = screen.Red
	signalSendColour = screen.Magenta
)

// Renderer is the capability an event needs to draw itself. The diagram
// drawer hands one of these to each event when the cursor reaches the
// event's position in the line.
type Renderer interface {
	// Backtrack moves the cursor left. Some events draw a bracket or a
	// marker into the padding column before their own position.
	Backtrack(steps int)
	DrawChar(colour screen.Colour, ch byte, count int)
	DrawString(colour screen.Colour, s string)
}

// SourceLocation is the (file, function, line) a tracee reported through
// the injection header's fake syscall just before the real call.
type SourceLocation struct {
	File string
	Func string
	Line uint32
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%s:%d", l.File, l.Func, l.Line)
}

// Event is one entry in a process's log. Concrete variants are the structs
// below; code that needs to distinguish them switches on the type.
type Event interface {
	Owner() *Process
	Location() *SourceLocation
	setLocation(loc *SourceLocation)
	String() string
	Draw(r Renderer)
}

// LinkEvent is an event that draws a horizontal line connecting two process
// paths on the diagram (fork, reap, kill-pair).
type LinkEvent interface {
	Event
	LinkedPath() *Process
	LinkChar() byte
	LinkColour() screen.Colour
}

type baseEvent struct {
	owner *Process
	loc   *SourceLocation
}

func (e *baseEvent) Owner() *Process                 { return e.owner }
func (e *baseEvent) Location() *SourceLocation       { return e.loc }
func (e *baseEvent) setLocation(loc *SourceLocation) { e.loc = loc }

// ForkEvent generates a child that will send us SIGCHLD when it dies.
type ForkEvent struct {
	baseEvent
	Child *Process
}

func (e *ForkEvent) String() string {
	return fmt.Sprintf("%d forked %d", e.owner.Pid(), e.Child.Pid())
}

func (e *ForkEvent) Draw(r Renderer) {
	r.DrawChar(e.LinkColour(), '+', 1)
}

func (e *ForkEvent) LinkedPath() *Process      { return e.Child }
func (e *ForkEvent) LinkChar() byte            { return '-' }
func (e *ForkEvent) LinkColour() screen.Colour { return screen.Default }

// WaitEvent is a wait call that hasn't (yet) resulted in a reap, whether
// because it is still pending or because it failed. A wait that does reap
// gets promoted in place into a ReapEvent, which takes ownership of this
// event.
type WaitEvent struct {
	baseEvent
	WaitedID int // same meaning as the pid argument of waitpid(2)
	Nohang   bool
	Err      int // errno; 0 means pending or success
}

func waitTargetString(waitedID int) string {
	switch {
	case waitedID == -1:
		return "any child"
	case waitedID > 0:
		return strconv.Itoa(waitedID)
	case waitedID == 0:
		return "their group"
	default:
		return fmt.Sprintf("group %d", -waitedID)
	}
}

func (e *WaitEvent) String() string {
	target := waitTargetString(e.WaitedID)
	nohang := ""
	if e.Nohang {
		nohang = " (WNOHANG)"
	}
	if e.Err == 0 {
		return fmt.Sprintf("%d started waiting for %s%s", e.owner.Pid(), target, nohang)
	}
	return fmt.Sprintf("%d waited for %s%s {failed: %s}",
		e.owner.Pid(), target, nohang, system.ErrnoString(e.Err))
}

func (e *WaitEvent) Draw(r Renderer) {
	colour := screen.Default
	if e.Err != 0 {
		colour = badWaitColour
	}
	r.DrawChar(colour, 'w', 1)
}

// ReapEvent records a child being reaped via wait4 or waitid. It supersedes
// (and exclusively owns) the WaitEvent that produced it.
type ReapEvent struct {
	baseEvent
	Child *Process
	Wait  *WaitEvent
}

func (e *ReapEvent) String() string {
	nohang := ""
	if e.Wait.Nohang {
		nohang = " (WNOHANG)"
	}
	return fmt.Sprintf("%d reaped %s {waited for %s%s}", e.owner.Pid(),
		e.Child.DeathEvent().String(), waitTargetString(e.Wait.WaitedID), nohang)
}

func (e *ReapEvent) Draw(r Renderer) {
	var ch byte
	switch {
	case e.Wait.WaitedID == -1:
		ch = 'w' // waited for anyone
	case e.Wait.WaitedID > 0:
		ch = 'i' // waited for a specific id
	default:
		ch = 'g' // waited for a group
	}
	r.DrawChar(e.LinkColour(), ch, 1)
}

func (e *ReapEvent) LinkedPath() *Process { return e.Child }

func (e *ReapEvent) LinkChar() byte {
	if e.Child.Killed() {
		return '~'
	}
	return '-'
}

func (e *ReapEvent) LinkColour() screen.Colour {
	if e.Child.Killed() {
		return killedColour
	}
	return exitedColour
}

// RaiseEvent is a signal send where the other end isn't a distinct process
// in our tree: a signal to self, to a group, or to a pid we don't know.
type RaiseEvent struct {
	baseEvent
	KilledID int // same meaning as the pid argument of kill(2)
	Signal   int
	ToThread bool
}

func (e *RaiseEvent) String() string {
	name := system.SignalName(e.Signal)
	switch {
	case e.KilledID == -1:
		return fmt.Sprintf("%d sent %s (%d) to everyone", e.owner.Pid(), name, e.Signal)
	case e.KilledID == 0:
		return fmt.Sprintf("%d sent %s (%d) to their group", e.owner.Pid(), name, e.Signal)
	case e.KilledID == e.owner.Pid():
		return fmt.Sprintf("%d sent %s (%d) to themself {as a %s}",
			e.owner.Pid(), name, e.Signal, threadOrProcess(e.ToThread))
	default:
		return fmt.Sprintf("%d sent %s (%d) to %d {as a %s}",
			e.owner.Pid(), name, e.Signal, e.KilledID, threadOrProcess(e.ToThread))
	}
}

func threadOrProcess(toThread bool) string {
	if toThread {
		return "thread"
	}
	return "process"
}

func (e *RaiseEvent) Draw(r Renderer) {
	r.DrawString(signalSendColour, strconv.Itoa(e.Signal))
}

// KillInfo is shared by the two ends of a kill: the sender's and the
// receiver's KillEvents both reference the same descriptor.
type KillInfo struct {
	Source   *Process
	Dest     *Process
	Signal   int
	ToThread bool
}

// KillEvent is one end of a signal sent between two distinct processes that
// both live in the tree. Added in pairs, one with Sender=true on the source
// and one with Sender=false on the destination.
type KillEvent struct {
	baseEvent
	Info   *KillInfo
	Sender bool
}

func (e *KillEvent) String() string {
	src, dst := e.Info.Source.Pid(), e.Info.Dest.Pid()
	return fmt.Sprintf("%d sent %s (%d) to %d {as a %s}",
		src, system.SignalName(e.Info.Signal), e.Info.Signal, dst,
		threadOrProcess(e.Info.ToThread))
}

func (e *KillEvent) Draw(r Renderer) {
	r.DrawString(signalSendColour, strconv.Itoa(e.Info.Signal))
}

func (e *KillEvent) LinkedPath() *Process {
	if e.Sender {
		return e.Info.Dest
	}
	return e.Info.Source
}

// The renderer draws lines left to right. If it hits the sender first it
// pads with '>' on the way to the receiver; if it hits the receiver first
// it pads with '<' on the way back to the sender.
func (e *KillEvent) LinkChar() byte {
	if e.Sender {
		return '>'
	}
	return '<'
}

func (e *KillEvent) LinkColour() screen.Colour { return signalSendColour }

// SignalEvent records a signal being delivered, which may or may not turn
// out to have killed the process. When it does, the event is promoted in
// place (Killed set to true) rather than a second event being appended.
type SignalEvent struct {
	baseEvent
	Origin int // -1 unknown; 0 or own pid means self
	Signal int
	Killed bool
}

func (e *SignalEvent) String() string {
	action := "received"
	if e.Killed {
		action = "killed by"
	}
	name := system.SignalName(e.Signal)
	switch {
	case e.Origin == -1:
		return fmt.Sprintf("%d %s %s (%d) {unknown sender}", e.owner.Pid(), action, name, e.Signal)
	case e.Origin == 0 || e.Origin == e.owner.Pid():
		return fmt.Sprintf("%d %s %s (%d) {raised by self}", e.owner.Pid(), action, name, e.Signal)
	case e.Origin == os.Getpid():
		return fmt.Sprintf("%d %s %s (%d) {sent by tracer}", e.owner.Pid(), action, name, e.Signal)
	default:
		return fmt.Sprintf("%d %s %s (%d) {sent by %d}", e.owner.Pid(), action, name, e.Signal, e.Origin)
	}
}

func (e *SignalEvent) Draw(r Renderer) {
	if !e.Killed {
		r.DrawString(signalColour, strconv.Itoa(e.Signal))
		return
	}
	if e.owner.Orphaned() {
		r.Backtrack(1)
		r.DrawChar(screen.Default, '[', 1)
	} else if !e.owner.Reaped() {
		r.Backtrack(1)
		r.DrawChar(killedColour, '~', 1)
	}
	r.DrawString(killedColour, strconv.Itoa(e.Signal))
	if e.owner.Orphaned() {
		r.DrawChar(screen.Default, ']', 1)
	}
}

// ExitEvent is a voluntary exit.
type ExitEvent struct {
	baseEvent
	Status int
}

func (e *ExitEvent) String() string {
	return fmt.Sprintf("%d exited %d", e.owner.Pid(), e.Status)
}

func (e *ExitEvent) Draw(r Renderer) {
	if e.owner.Orphaned() {
		r.Backtrack(1)
		r.DrawChar(screen.Default, '(', 1)
	}
	r.DrawString(exitedColour, strconv.Itoa(e.Status))
	if e.owner.Orphaned() {
		r.DrawChar(screen.Default, ')', 1)
	}
}

// ExecCall is one attempt inside an ExecEvent.
type ExecCall struct {
	File    string
	Errcode int // errno; 0 for success
}

func (c ExecCall) describe(e *ExecEvent) string {
	if c.Errcode == 0 {
		return fmt.Sprintf("%d execed %s [ %s ]",
			e.owner.Pid(), c.File, strings.Join(e.Args, " "))
	}
	if c.File == "" {
		return fmt.Sprintf("%d failed to exec: %s",
			e.owner.Pid(), system.ErrnoString(c.Errcode))
	}
	return fmt.Sprintf("%d failed to exec %s: %s",
		e.owner.Pid(), c.File, system.ErrnoString(c.Errcode))
}

// ExecEvent groups a run of exec attempts with the same argv and program
// basename into a single event. C functions like execvp walk $PATH by
// calling execve on each candidate directory, and we'd rather not show
// every one of those misses as its own event.
type ExecEvent struct {
	baseEvent
	Calls []ExecCall
	Args  []string
}

// File returns the most recently attempted path.
func (e *ExecEvent) File() string {
	return e.Calls[len(e.Calls)-1].File
}

// Succeeded reports whether the most recent attempt worked.
func (e *ExecEvent) Succeeded() bool {
	return e.Calls[len(e.Calls)-1].Errcode == 0
}

func (e *ExecEvent) String() string {
	last := e.Calls[len(e.Calls)-1].describe(e)
	if len(e.Calls) == 1 {
		return last
	}
	return fmt.Sprintf("%s (%d attempts)", last, len(e.Calls))
}

func (e *ExecEvent) Draw(r Renderer) {
	colour := execColour
	if !e.Succeeded() {
		colour = badExecColour
	}
	r.DrawChar(colour, 'E', 1)
}

// printTree writes an event (and, for forks, the child's subtree) in the
// indented format used by the tree command.
func printTree(w io.Writer, event Event, indent int) {
	pad := strings.Repeat("    ", indent)
	switch e := event.(type) {
	case *ForkEvent:
		fmt.Fprintf(w, "%s%s\n", pad, e.String())
		e.Child.PrintTree(w, indent+1)
	case *ExecEvent:
		for _, call := range e.Calls {
			fmt.Fprintf(w, "%s%s\n", pad, call.describe(e))
		}
	default:
		fmt.Fprintf(w, "%s%s\n", pad, event.String())
	}
}
