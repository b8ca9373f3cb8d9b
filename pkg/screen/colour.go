package screen

import (
	"github.com/fatih/color"
)

// Colour identifies one of the small set of text styles the diagram uses.
// The zero value is the terminal default.
type Colour int

const (
	Default Colour = iota
	White
	Red
	RedBold
	GreenBold
	Yellow
	BlueBold
	Magenta
	Bold
)

var colours = map[Colour]*color.Color{
	White:     color.New(color.FgWhite),
	Red:       color.New(color.FgRed),
	RedBold:   color.New(color.FgRed, color.Bold),
	GreenBold: color.New(color.FgGreen, color.Bold),
	Yellow:    color.New(color.FgYellow),
	BlueBold:  color.New(color.FgBlue, color.Bold),
	Magenta:   color.New(color.FgMagenta),
	Bold:      color.New(color.Bold),
}

// Paint wraps s in the escape sequences for c. Respects color.NoColor.
func (c Colour) Paint(s string) string {
	cc, ok := colours[c]
	if !ok {
		return s
	}
	return cc.Sprint(s)
}

// SetColourEnabled flips colour output globally (fatih/color owns the
// switch, which also covers logrus and the help text).
func SetColourEnabled(enabled bool) {
	color.NoColor = !enabled
}

// ColourEnabled reports whether colour output is currently on.
func ColourEnabled() bool {
	return !color.NoColor
}
