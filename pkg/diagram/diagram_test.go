package diagram

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/forktrace/forktrace/pkg/proctree"
	"github.com/forktrace/forktrace/pkg/screen"
)

func init() {
	log.SetLevel(log.WarnLevel)
	color.NoColor = true // keep the rendered grids byte-comparable
}

func exitStatus(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func killedBy(signal int) unix.WaitStatus {
	return unix.WaitStatus(signal)
}

func root(pid int) *proctree.Process {
	return proctree.NewRootProcess(pid, "/bin/sh", []string{"/bin/sh"})
}

func render(win *screen.Window) string {
	var sb strings.Builder
	win.WriteTo(&sb)
	return sb.String()
}

// checkLayout verifies the structural layout invariants for every process
// in the tree: paths inside the line range, non-negative lanes, and no two
// paths overlapping within one lane.
func checkLayout(t *testing.T, d *Diagram, procs []*proctree.Process) {
	t.Helper()
	type span struct {
		start, end int
	}
	lanes := make(map[int][]span)
	for _, p := range procs {
		start, end, ok := d.PathSpan(p)
		require.True(t, ok, "process %d missing from the diagram", p.Pid())
		lane := d.Lane(p)
		assert.GreaterOrEqual(t, lane, 0)
		assert.LessOrEqual(t, start, end)
		assert.Less(t, end, d.LineCount())
		for _, other := range lanes[lane] {
			overlap := end >= other.start && start <= other.end
			assert.False(t, overlap, "process %d overlaps another path in lane %d", p.Pid(), lane)
		}
		lanes[lane] = append(lanes[lane], span{start, end})
	}
}

// Fork and reap: parent forks once, waits, both exit cleanly.
func TestForkAndReapLayout(t *testing.T) {
	p := root(100)
	c := proctree.NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c))
	require.NoError(t, p.NotifyEnded(exitStatus(0)))

	d := New(p, DefaultOptions())
	assert.Equal(t, 2, d.LaneCount())
	assert.False(t, d.Truncated())
	checkLayout(t, d, []*proctree.Process{p, c})

	out := render(d.Result())
	assert.Contains(t, out, "+", "fork glyph")
	assert.Contains(t, out, "w", "reap glyph (waited for any child)")
	assert.Contains(t, out, "0", "exit status")
}

// Orphan: the parent exits without waiting; the child's terminal glyph is
// drawn in parentheses.
func TestOrphanExitBrackets(t *testing.T) {
	p := root(100)
	c := proctree.NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c))
	require.NoError(t, p.NotifyEnded(exitStatus(0)))
	require.NoError(t, c.NotifyEnded(exitStatus(0)))
	require.NoError(t, c.NotifyOrphaned())

	d := New(p, DefaultOptions())
	out := render(d.Result())
	assert.Contains(t, out, "(0)", "orphaned exit should be bracketed")
	checkLayout(t, d, []*proctree.Process{p, c})
}

// Kill pair: A forks B, sends SIGTERM, B dies from it, A reaps.
func TestKillPairLayout(t *testing.T) {
	a := root(100)
	b := proctree.NewChildProcess(101, a)
	require.NoError(t, a.NotifyForked(b))
	require.NoError(t, proctree.NotifySentSignal(101, a, b, int(unix.SIGTERM), false))
	require.NoError(t, b.NotifySignaled(100, int(unix.SIGTERM)))
	require.NoError(t, a.NotifyWaiting(-1, false))
	require.NoError(t, b.NotifyEnded(killedBy(int(unix.SIGTERM))))
	require.NoError(t, a.NotifyReaped(b))
	require.NoError(t, a.NotifyEnded(exitStatus(0)))

	assert.True(t, b.Killed())

	d := New(a, DefaultOptions())
	checkLayout(t, d, []*proctree.Process{a, b})
	assert.Equal(t, 2, d.LaneCount())

	out := render(d.Result())
	assert.Contains(t, out, "15", "the signal number should be drawn")
	assert.Contains(t, out, "~", "a killed child's reap link uses ~")
}

// A second fork should stack into a third lane when the first child is
// still alive.
func TestNestedForksStackLanes(t *testing.T) {
	p := root(100)
	c1 := proctree.NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c1))
	c2 := proctree.NewChildProcess(102, p)
	require.NoError(t, p.NotifyForked(c2))

	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c1.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c1))
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c2.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c2))
	require.NoError(t, p.NotifyEnded(exitStatus(0)))

	d := New(p, DefaultOptions())
	checkLayout(t, d, []*proctree.Process{p, c1, c2})
	assert.Equal(t, 3, d.LaneCount())
	assert.Equal(t, 0, d.Lane(p))
	// Children are packed in reverse fork order: the newest fork lands
	// next to the parent, so its fork link never crosses a live path.
	assert.Less(t, d.Lane(c2), d.Lane(c1))
}

// Lanes get reused once the previous occupant's path has ended.
func TestLaneReuseAfterReap(t *testing.T) {
	p := root(100)
	c1 := proctree.NewChildProcess(101, p)
	require.NoError(t, p.NotifyForked(c1))
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c1.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c1))

	c2 := proctree.NewChildProcess(102, p)
	require.NoError(t, p.NotifyForked(c2))
	require.NoError(t, p.NotifyWaiting(-1, false))
	require.NoError(t, c2.NotifyEnded(exitStatus(0)))
	require.NoError(t, p.NotifyReaped(c2))
	require.NoError(t, p.NotifyEnded(exitStatus(0)))

	d := New(p, DefaultOptions())
	checkLayout(t, d, []*proctree.Process{p, c1, c2})
	assert.Equal(t, 2, d.LaneCount(), "sequential children should share a lane")
}

// The display filter hides events without breaking the layout.
func TestFilteredEventsHidden(t *testing.T) {
	p := root(100)
	require.NoError(t, p.NotifySignaled(0, int(unix.SIGWINCH)))
	require.NoError(t, p.NotifyEnded(exitStatus(0)))

	opts := DefaultOptions() // non-fatal signals hidden by default
	d := New(p, opts)
	out := render(d.Result())
	assert.NotContains(t, out, "28", "hidden non-fatal signal leaked into the diagram")

	opts.ShowNonFatalSignals = true
	d = New(p, opts)
	out = render(d.Result())
	assert.Contains(t, out, "28")
}

func TestRootWithNoEvents(t *testing.T) {
	p := root(100)
	d := New(p, DefaultOptions())
	assert.Equal(t, 1, d.LaneCount())
	start, end, ok := d.PathSpan(p)
	require.True(t, ok)
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)
}
