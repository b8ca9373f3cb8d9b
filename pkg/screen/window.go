// Package screen holds the character grid the diagram is rendered into,
// plus the terminal plumbing (size queries, raw mode, the scroll viewer).
// The grid is deliberately dumb: a rectangle of coloured cells that can be
// written to any io.Writer, tty or not.
package screen

import (
	"io"
	"strings"
)

type cell struct {
	ch     byte
	colour Colour
}

// Window is a fixed-size grid of coloured characters. Writes outside the
// grid are clipped, which keeps the drawing code free of bounds checks.
type Window struct {
	width, height int
	cells         []cell
}

func NewWindow(width, height int) *Window {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	w := &Window{
		width:  width,
		height: height,
		cells:  make([]cell, width*height),
	}
	for i := range w.cells {
		w.cells[i].ch = ' '
	}
	return w
}

func (w *Window) Width() int  { return w.width }
func (w *Window) Height() int { return w.height }

// DrawChar puts count copies of ch at (x, y) going right.
func (w *Window) DrawChar(x, y int, colour Colour, ch byte, count int) {
	if y < 0 || y >= w.height {
		return
	}
	for i := 0; i < count; i++ {
		cx := x + i
		if cx < 0 || cx >= w.width {
			continue
		}
		w.cells[y*w.width+cx] = cell{ch: ch, colour: colour}
	}
}

// DrawString puts s at (x, y) going right.
func (w *Window) DrawString(x, y int, colour Colour, s string) {
	if y < 0 || y >= w.height {
		return
	}
	for i := 0; i < len(s); i++ {
		cx := x + i
		if cx < 0 || cx >= w.width {
			continue
		}
		w.cells[y*w.width+cx] = cell{ch: s[i], colour: colour}
	}
}

// Line renders row y as a string, colour escapes included when enabled.
// Trailing whitespace is trimmed.
func (w *Window) Line(y int) string {
	if y < 0 || y >= w.height {
		return ""
	}
	row := w.cells[y*w.width : (y+1)*w.width]
	end := len(row)
	for end > 0 && row[end-1].ch == ' ' {
		end--
	}

	var sb strings.Builder
	run := strings.Builder{}
	cur := Default
	flush := func() {
		if run.Len() > 0 {
			sb.WriteString(cur.Paint(run.String()))
			run.Reset()
		}
	}
	for _, c := range row[:end] {
		if c.colour != cur {
			flush()
			cur = c.colour
		}
		run.WriteByte(c.ch)
	}
	flush()
	return sb.String()
}

// WriteTo dumps the whole grid, one line per row.
func (w *Window) WriteTo(out io.Writer) (int64, error) {
	var total int64
	for y := 0; y < w.height; y++ {
		n, err := io.WriteString(out, w.Line(y)+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
