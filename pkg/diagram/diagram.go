// Package diagram lays a process tree out as a lane-and-line diagram and
// renders it into a character grid. The layout runs in two passes: line
// construction walks time top-to-bottom and resolves cross-process links
// (fork spawns, reaps, kill pairs), then lane packing drops each process
// path down the lanes until it rests on top of the first one it collides
// with, Tetris style.
//
// The diagram holds references into the process tree but stores nothing on
// it; while a Diagram is alive the tree must not be mutated.
package diagram

import (
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/screen"
)

// Options selects which events appear and how wide lanes are.
type Options struct {
	LaneWidth           int
	ShowExecs           bool
	ShowFailedExecs     bool
	ShowNonFatalSignals bool
	ShowSignalSends     bool
}

// DefaultOptions matches the tool's defaults: successful execs and signal
// sends visible, noise hidden.
func DefaultOptions() Options {
	return Options{
		LaneWidth:       5,
		ShowExecs:       true,
		ShowSignalSends: true,
	}
}

// path is where one process lives on the diagram: the [startLine, endLine]
// interval within a single lane.
type path struct {
	startLine int
	endLine   int // -1 until the path's end has been decided
	lane      int // -1 until lane packing runs

	// Kill-pair handshake state. A path whose next event is one end of a
	// kill sets this to its partner's process; when the other side sees
	// the pointer aimed back at itself, both ends are ready to link.
	killPartner *proctree.Process
}

// node is one process's cell on one line: the event it performs there (or
// nil for a plain continuation) and the index of its next pending event.
type node struct {
	process *proctree.Process
	event   proctree.Event
	next    int // index of the pending event, -1 if none
}

// zombie reports whether the process sits on this line as a reaped corpse.
func (n node) zombie() bool {
	return n.process.Reaped() && n.next == -1
}

// endOfPath reports whether no successors are permitted after this node.
func (n node) endOfPath() bool {
	return !n.process.Reaped() && n.next == -1
}

func (n node) nextEvent() proctree.Event {
	if n.next == -1 {
		return nil
	}
	return n.process.Event(n.next)
}

// Diagram is the built layout plus its rendering.
type Diagram struct {
	leader    *proctree.Process
	opts      Options
	drawer    *drawer
	paths     map[*proctree.Process]*path
	lines     [][]node
	laneCount int
}

// New builds and renders the diagram for the given leader process.
func New(leader *proctree.Process, opts Options) *Diagram {
	if opts.LaneWidth < 2 {
		opts.LaneWidth = 2
	}
	d := &Diagram{
		leader: leader,
		opts:   opts,
		drawer: newDrawer(opts.LaneWidth),
		paths:  make(map[*proctree.Process]*path),
	}

	d.paths[leader] = &path{startLine: 0, endLine: -1, lane: -1}
	d.lines = append(d.lines, []node{d.startPath(leader)})
	for d.buildNextLine() {
	}

	lanes := [][]*path{{}}
	d.allocateProcessToLane(&lanes, leader)
	d.laneCount = len(lanes)

	d.drawer.start(d.laneCount, len(d.lines))
	d.draw()
	return d
}

// Result returns the rendered grid.
func (d *Diagram) Result() *screen.Window { return d.drawer.result() }

// Truncated reports whether any part of the diagram overwrote earlier
// columns because the lane width is too small.
func (d *Diagram) Truncated() bool { return d.drawer.truncated }

func (d *Diagram) LineCount() int { return len(d.lines) }
func (d *Diagram) LaneCount() int { return d.laneCount }

// Lane returns the lane a process was packed into, or -1 if the process
// isn't on the diagram.
func (d *Diagram) Lane(process *proctree.Process) int {
	if p, ok := d.paths[process]; ok {
		return p.lane
	}
	return -1
}

// PathSpan returns a process's [startLine, endLine] interval.
func (d *Diagram) PathSpan(process *proctree.Process) (start, end int, ok bool) {
	p, found := d.paths[process]
	if !found {
		return 0, 0, false
	}
	return p.startLine, p.endLine, true
}

// hidden applies the display filter.
func (d *Diagram) hidden(event proctree.Event) bool {
	switch e := event.(type) {
	case *proctree.ExecEvent:
		if !d.opts.ShowExecs {
			return true
		}
		return !e.Succeeded() && !d.opts.ShowFailedExecs
	case *proctree.SignalEvent:
		return !e.Killed && !d.opts.ShowNonFatalSignals
	case *proctree.KillEvent:
		return !d.opts.ShowSignalSends
	case *proctree.RaiseEvent:
		return !d.opts.ShowSignalSends
	}
	return false
}

// getNextEvent finds the next unfiltered event for a process at or after
// index start, or -1 if there is none. Finding a KillEvent arms the path's
// kill-partner pointer so the peer knows we're ready to link.
func (d *Diagram) getNextEvent(process *proctree.Process, start int) int {
	for i := start; i < process.EventCount(); i++ {
		event := process.Event(i)
		if d.hidden(event) {
			continue
		}
		if kill, ok := event.(*proctree.KillEvent); ok {
			if p := d.paths[process]; p != nil && p.killPartner == nil {
				p.killPartner = kill.LinkedPath()
			}
		}
		return i
	}
	return -1
}

// getSuccessor makes the node that consumes prev's pending event.
func (d *Diagram) getSuccessor(prev node) node {
	if prev.next == -1 {
		return node{process: prev.process, event: nil, next: -1}
	}
	return node{
		process: prev.process,
		event:   prev.process.Event(prev.next),
		next:    d.getNextEvent(prev.process, prev.next+1),
	}
}

// continuePath makes a node that keeps prev's path going but does nothing.
func continuePath(prev node) node {
	return node{process: prev.process, event: nil, next: prev.next}
}

// startPath makes the first node of a process's path.
func (d *Diagram) startPath(process *proctree.Process) node {
	return node{process: process, event: nil, next: d.getNextEvent(process, 0)}
}

// pathReadyToEnd checks whether a process had nothing left to do on the
// previous line (so its path can terminate on this one).
func pathReadyToEnd(prevLine []node, process *proctree.Process) bool {
	for _, n := range prevLine {
		if n.process == process {
			return n.nextEvent() == nil
		}
	}
	return false // not created yet, so not ready either
}

// doLinkEvent handles a node whose next event links to another path. It
// appends this path's next node to curLine and returns the process the
// horizontal linking line terminates on (the child for a fork; nil when the
// line ends at this node, as for the second end of a kill pair, or when the
// link isn't ready yet).
func (d *Diagram) doLinkEvent(curLine *[]node, lineNum int, p *path, prev node, event proctree.LinkEvent) *proctree.Process {
	prevLine := d.lines[len(d.lines)-1]
	other := event.LinkedPath()

	switch event.(type) {
	case *proctree.ForkEvent:
		// A fork spawns a fresh path on this line.
		d.paths[other] = &path{startLine: lineNum, endLine: -1, lane: -1}
		*curLine = append(*curLine, d.getSuccessor(prev))
		*curLine = append(*curLine, d.startPath(other))
		return other

	case *proctree.ReapEvent:
		// A reap removes an existing path, but only once the partner has
		// nothing left to do.
		if !pathReadyToEnd(prevLine, other) {
			*curLine = append(*curLine, continuePath(prev))
			return nil
		}
		d.paths[other].endLine = lineNum
		*curLine = append(*curLine, d.getSuccessor(prev))
		return other

	case *proctree.KillEvent:
		partner, ok := d.paths[other]
		if !ok {
			// Our partner's path doesn't exist yet, so we wait.
			*curLine = append(*curLine, continuePath(prev))
			return nil
		}
		if p.killPartner == nil {
			// Our partner already saw us and cleared both pointers: they
			// are to our left and the link is drawn from their side.
			*curLine = append(*curLine, d.getSuccessor(prev))
			return nil
		}
		if partner.killPartner != prev.process {
			// The partner path isn't ready to connect with us yet.
			*curLine = append(*curLine, continuePath(prev))
			return nil
		}
		// Both sides are ready. Clear both pointers; neither is looking
		// for a connection any more.
		partner.killPartner = nil
		p.killPartner = nil
		*curLine = append(*curLine, d.getSuccessor(prev))
		return other
	}
	return nil
}

// buildNextLine derives the next line of the diagram from the previous one.
// Returns false once a line comes out empty (the diagram has settled).
func (d *Diagram) buildNextLine() bool {
	var curLine []node
	lineNum := len(d.lines)

	// Horizontal linking lines may not overlap. While we're inside one,
	// this is the process it terminates on; link events that would start a
	// second line get deferred to a later diagram line.
	var linkEnd *proctree.Process

	for _, prev := range d.lines[len(d.lines)-1] {
		event := prev.nextEvent()
		p := d.paths[prev.process]

		// If this is the leader with nothing left to do, or a path that
		// permits no successors, close the path off (only once, or it
		// would never die and we'd loop forever).
		if ((prev.process == d.leader && event == nil) || prev.endOfPath()) && p.endLine == -1 {
			p.endLine = lineNum - 1
			if p.endLine < p.startLine {
				p.endLine = p.startLine
			}
		}

		if linkEnd == prev.process {
			linkEnd = nil
		}

		// Out of events: keep the path only while something still needs
		// it on the diagram (e.g. a zombie waiting to be reaped).
		if event == nil {
			if p.endLine == -1 || p.endLine >= lineNum {
				curLine = append(curLine, continuePath(prev))
			}
			continue
		}

		if link, ok := event.(proctree.LinkEvent); ok {
			if linkEnd != nil {
				// Already inside a linking line; defer this link so the
				// two don't draw on top of each other.
				curLine = append(curLine, continuePath(prev))
				continue
			}
			linkEnd = d.doLinkEvent(&curLine, lineNum, p, prev, link)
		} else {
			curLine = append(curLine, d.getSuccessor(prev))
		}
	}

	if len(curLine) == 0 {
		return false
	}
	d.lines = append(d.lines, curLine)
	return true
}

// allocateProcessToLane drops a path down the lanes until it lands on one
// it overlaps with, then rests on top of that (adding a new lane at the top
// if needed). Children are placed in reverse event order so later forks end
// up nearer their parent (further left).
func (d *Diagram) allocateProcessToLane(lanes *[][]*path, process *proctree.Process) {
	myPath := d.paths[process]

	collision := false
	for i := len(*lanes) - 1; i >= 0; i-- {
		for _, other := range (*lanes)[i] {
			if myPath.endLine >= other.startLine && myPath.startLine <= other.endLine {
				collision = true
				break
			}
		}
		if collision {
			if i+1 < len(*lanes) {
				myPath.lane = i + 1
			} else {
				*lanes = append(*lanes, nil)
				myPath.lane = len(*lanes) - 1
			}
			(*lanes)[myPath.lane] = append((*lanes)[myPath.lane], myPath)
			break
		}
	}
	if !collision {
		// Didn't hit anything: it fits in the bottom lane.
		myPath.lane = 0
		(*lanes)[0] = append((*lanes)[0], myPath)
	}

	for i := process.EventCount() - 1; i >= 0; i-- {
		if fork, ok := process.Event(i).(*proctree.ForkEvent); ok {
			d.allocateProcessToLane(lanes, fork.Child)
		}
	}
}

// drawLine renders one line of the layout.
func (d *Diagram) drawLine(line []node, lineNum int) {
	d.drawer.startLine(lineNum)

	// The link line currently being drawn across lanes, if any. reversed
	// means we met the receiver of a kill before its sender: the '+'
	// terminator goes on the near (left) side and the event glyph on the
	// far side.
	var curEvent proctree.LinkEvent
	reversed := false
	prevLane := 0

	for _, n := range line {
		p := d.paths[n.process]

		if curEvent != nil {
			// Fill the lanes we skipped over with the link character.
			for i := prevLane + 1; i < p.lane; i++ {
				d.drawer.startLane(i)
				d.drawer.drawLink(curEvent)
			}
		}
		d.drawer.startLane(p.lane)
		prevLane = p.lane

		pathChar := byte('|')
		if n.zombie() {
			pathChar = '.'
		}

		if curEvent != nil && curEvent.LinkedPath() == n.process {
			// End of the linking line.
			if reversed {
				curEvent.Draw(d.drawer)
			} else {
				d.drawer.DrawChar(screen.Default, '+', 1)
			}
			reversed = false
			curEvent = nil
		} else if n.event != nil {
			if link, ok := n.event.(proctree.LinkEvent); ok {
				// Start of a linking line.
				curEvent = link
				if kill, ok := link.(*proctree.KillEvent); ok {
					reversed = !kill.Sender
				}
				if reversed {
					d.drawer.DrawChar(screen.Default, '+', 1)
				} else {
					curEvent.Draw(d.drawer)
				}
			} else {
				n.event.Draw(d.drawer)
			}
		} else {
			d.drawer.DrawChar(screen.Default, pathChar, 1)
		}

		if curEvent != nil {
			d.drawer.drawLink(curEvent)
		}

		if p.endLine > lineNum {
			d.drawer.drawContinuation(p.lane, screen.Default, pathChar)
		}
	}
}

func (d *Diagram) draw() {
	for i, line := range d.lines {
		d.drawLine(line, i)
	}
}
