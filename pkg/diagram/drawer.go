package diagram

import (
	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/screen"
)

// The starting column of the diagram. One free column on the left gives
// events that backtrack (the `(` and `[` brackets, the `~` kill marker)
// somewhere to draw.
const lshift = 1

// drawer renders diagram lines into a Window, column-exactly. Each diagram
// line takes two grid rows: the event row and the inter-line row used for
// path continuation marks. It implements proctree.Renderer, which is how
// events draw themselves.
type drawer struct {
	win       *screen.Window
	laneWidth int

	x, y int

	// The rightmost column drawn so far on this line. A draw that moves
	// left of this would overwrite earlier content: that means the lane
	// width is too small, and we flag it instead of pretending.
	xExtent   int
	truncated bool
}

func newDrawer(laneWidth int) *drawer {
	return &drawer{laneWidth: laneWidth}
}

func (d *drawer) start(numLanes, numLines int) {
	d.win = screen.NewWindow(numLanes*d.laneWidth+lshift, numLines*2)
}

func (d *drawer) result() *screen.Window { return d.win }

func (d *drawer) startLine(line int) {
	d.xExtent = 0
	d.x = 0
	d.y = line * 2
}

func (d *drawer) startLane(lane int) {
	d.x = lane*d.laneWidth + lshift
	if d.x < d.xExtent {
		d.truncated = true
	}
}

// drawLink pads from the cursor to the end of the current lane with the
// link's fill character. Deliberately doesn't advance xExtent: events that
// later draw on top of link padding aren't truncation.
func (d *drawer) drawLink(event proctree.LinkEvent) {
	laneStart := (d.x-lshift)/d.laneWidth*d.laneWidth + lshift
	padding := laneStart + d.laneWidth - d.x
	d.win.DrawChar(d.x, d.y, event.LinkColour(), event.LinkChar(), padding)
	d.x += padding
}

// drawContinuation extends a path down to the next line, on the inter-line
// row.
func (d *drawer) drawContinuation(lane int, colour screen.Colour, ch byte) {
	d.win.DrawChar(lane*d.laneWidth+lshift, d.y+1, colour, ch, 1)
}

func (d *drawer) Backtrack(steps int) {
	d.x -= steps
	if d.x < d.xExtent {
		d.truncated = true
	}
	if d.x < 0 {
		// Backtracking out of the grid entirely (lane 0 with no room even
		// in the lshift column). Clamp and report rather than corrupt.
		d.x = 0
		d.truncated = true
	}
}

func (d *drawer) DrawChar(colour screen.Colour, ch byte, count int) {
	d.win.DrawChar(d.x, d.y, colour, ch, count)
	d.x += count
	d.xExtent = d.x
}

func (d *drawer) DrawString(colour screen.Colour, s string) {
	d.win.DrawString(d.x, d.y, colour, s)
	d.x += len(s)
	d.xExtent = d.x
}
