package screen

import (
	"os"

	"github.com/moby/term"
)

// TerminalSize returns the (width, height) of the controlling terminal, or
// ok=false when stdout isn't a tty.
func TerminalSize() (width, height int, ok bool) {
	fd := os.Stdout.Fd()
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	ws, err := term.GetWinsize(fd)
	if err != nil || ws.Width == 0 || ws.Height == 0 {
		return 0, 0, false
	}
	return int(ws.Width), int(ws.Height), true
}

// StderrIsTerminal reports whether log output goes to a tty (used to decide
// whether log lines get coloured).
func StderrIsTerminal() bool {
	return term.IsTerminal(os.Stderr.Fd())
}
