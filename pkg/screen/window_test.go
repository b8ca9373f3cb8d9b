package screen

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestWindowDrawAndRender(t *testing.T) {
	w := NewWindow(10, 2)
	w.DrawChar(1, 0, Default, '+', 1)
	w.DrawChar(2, 0, Default, '-', 3)
	w.DrawString(5, 0, GreenBold, "ok")
	w.DrawChar(1, 1, Default, '|', 1)

	if got := w.Line(0); got != " +---ok" {
		t.Errorf("Line(0) = %q", got)
	}
	if got := w.Line(1); got != " |" {
		t.Errorf("Line(1) = %q", got)
	}
}

func TestWindowClipsOutOfBounds(t *testing.T) {
	w := NewWindow(4, 1)
	w.DrawString(2, 0, Default, "abcdef") // spills off the right edge
	w.DrawChar(0, 5, Default, 'x', 1)     // row out of range
	w.DrawChar(-2, 0, Default, 'y', 1)    // column out of range

	if got := w.Line(0); got != "  ab" {
		t.Errorf("Line(0) = %q", got)
	}
}

func TestWindowWriteTo(t *testing.T) {
	w := NewWindow(3, 2)
	w.DrawString(0, 0, Default, "ab")
	w.DrawString(0, 1, Default, "c")

	var sb strings.Builder
	if _, err := w.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	if sb.String() != "ab\nc\n" {
		t.Errorf("WriteTo produced %q", sb.String())
	}
}

func TestColourEscapesWhenEnabled(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	w := NewWindow(3, 1)
	w.DrawString(0, 0, RedBold, "no")
	line := w.Line(0)
	if !strings.Contains(line, "\x1b[") {
		t.Error("expected ANSI escapes when colour is enabled")
	}
	if !strings.Contains(line, "no") {
		t.Error("content missing from coloured line")
	}
}

func TestMinimumWindowSize(t *testing.T) {
	w := NewWindow(0, 0)
	if w.Width() < 1 || w.Height() < 1 {
		t.Error("window must clamp to at least 1x1")
	}
}
