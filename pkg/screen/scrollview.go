package screen

import (
	"fmt"
	"os"

	"github.com/moby/term"
	"github.com/pkg/errors"
)

// ScrollView pages a Window that is too large for the terminal. Arrow keys
// (and hjkl) scroll, PgUp/PgDn jump, q or Escape quits. The terminal is put
// into raw mode for the duration and always restored, even on error.
func ScrollView(win *Window, status string) error {
	inFd := os.Stdin.Fd()
	outFd := os.Stdout.Fd()
	if !term.IsTerminal(inFd) || !term.IsTerminal(outFd) {
		return errors.New("scroll view needs a terminal")
	}

	state, err := term.SetRawTerminal(inFd)
	if err != nil {
		return errors.Wrap(err, "entering raw mode")
	}
	defer term.RestoreTerminal(inFd, state)

	// Switch to the alternate screen so the diagram doesn't scroll the
	// user's shell history away.
	fmt.Print("\x1b[?1049h\x1b[?25l")
	defer fmt.Print("\x1b[?25h\x1b[?1049l")

	var x, y int
	buf := make([]byte, 8)
	for {
		cols, rows, ok := TerminalSize()
		if !ok {
			cols, rows = 80, 24
		}
		view := rows - 1 // bottom row is the status line

		clampScroll(&x, win.Width()-cols)
		clampScroll(&y, win.Height()-view)
		redraw(win, x, y, cols, view, status)

		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return err
		}
		step := 1
		switch key(buf[:n]) {
		case "q", "\x03", "\x04":
			return nil
		case "\x1b":
			return nil
		case "up", "k":
			y -= step
		case "down", "j":
			y += step
		case "left", "h":
			x -= 4
		case "right", "l":
			x += 4
		case "pgup":
			y -= view
		case "pgdn", " ":
			y += view
		case "home", "g":
			x, y = 0, 0
		case "end", "G":
			y = win.Height()
		}
	}
}

func clampScroll(v *int, max int) {
	if max < 0 {
		max = 0
	}
	if *v > max {
		*v = max
	}
	if *v < 0 {
		*v = 0
	}
}

func redraw(win *Window, x, y, cols, rows int, status string) {
	fmt.Print("\x1b[H\x1b[2J")
	for row := 0; row < rows; row++ {
		line := clipLine(win, y+row, x, cols)
		fmt.Printf("%s\r\n", line)
	}
	if len(status) > cols {
		status = status[:cols]
	}
	fmt.Print(Bold.Paint(status))
}

// clipLine renders the [x, x+cols) slice of a row. Colour runs make byte
// slicing of Line() unsafe, so we re-render from the cells.
func clipLine(win *Window, y, x, cols int) string {
	if y < 0 || y >= win.Height() {
		return ""
	}
	var sb []byte
	cur := Default
	out := ""
	flush := func() {
		if len(sb) > 0 {
			out += cur.Paint(string(sb))
			sb = sb[:0]
		}
	}
	for col := x; col < x+cols && col < win.Width(); col++ {
		c := win.cells[y*win.width+col]
		if c.colour != cur {
			flush()
			cur = c.colour
		}
		sb = append(sb, c.ch)
	}
	flush()
	return out
}

func key(b []byte) string {
	s := string(b)
	switch s {
	case "\x1b[A":
		return "up"
	case "\x1b[B":
		return "down"
	case "\x1b[C":
		return "right"
	case "\x1b[D":
		return "left"
	case "\x1b[5~":
		return "pgup"
	case "\x1b[6~":
		return "pgdn"
	case "\x1b[H":
		return "home"
	case "\x1b[F":
		return "end"
	}
	return s
}
