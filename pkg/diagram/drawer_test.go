package diagram

import (
	"testing"

	"github.com/forktrace/forktrace/pkg/screen"
)

func TestDrawerTruncationOnLaneOverrun(t *testing.T) {
	d := newDrawer(3)
	d.start(2, 1)
	d.startLine(0)

	d.startLane(0)
	d.DrawString(screen.Default, "12345") // spills past lane 0
	if d.truncated {
		t.Fatal("drawing wide content alone should not truncate")
	}

	// Moving to lane 1 now starts left of what was already drawn.
	d.startLane(1)
	if !d.truncated {
		t.Error("expected truncation when a lane starts left of the x-extent")
	}
}

func TestDrawerNoTruncationWhenContentFits(t *testing.T) {
	d := newDrawer(5)
	d.start(2, 1)
	d.startLine(0)

	d.startLane(0)
	d.DrawString(screen.Default, "123")
	d.startLane(1)
	d.DrawChar(screen.Default, '|', 1)
	if d.truncated {
		t.Error("content within lane bounds must not set the truncation flag")
	}
}

func TestDrawerBacktrackIntoPreviousExtent(t *testing.T) {
	d := newDrawer(4)
	d.start(2, 1)
	d.startLine(0)

	d.startLane(0)
	d.DrawString(screen.Default, "1234") // extent reaches lane 1's start
	d.startLane(1)
	if d.truncated {
		t.Fatal("lane start exactly at the extent is fine")
	}
	d.Backtrack(1) // now we're inside lane 0's content
	if !d.truncated {
		t.Error("expected truncation after backtracking into the previous extent")
	}
}

func TestDrawerBacktrackClampsAtColumnZero(t *testing.T) {
	d := newDrawer(4)
	d.start(1, 1)
	d.startLine(0)

	d.startLane(0) // x == lshift
	d.Backtrack(lshift + 1)
	if d.x != 0 {
		t.Errorf("x = %d, want clamped to 0", d.x)
	}
	if !d.truncated {
		t.Error("running off the left edge should report truncation")
	}
}

func TestDrawerNewLineResetsExtent(t *testing.T) {
	d := newDrawer(4)
	d.start(2, 2)
	d.startLine(0)
	d.startLane(1)
	d.DrawString(screen.Default, "abc")

	d.startLine(1)
	d.startLane(0)
	d.DrawChar(screen.Default, '|', 1)
	if d.truncated {
		t.Error("the x-extent must reset between lines")
	}
}
