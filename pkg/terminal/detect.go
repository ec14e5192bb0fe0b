// Package terminal answers the few questions the CLI asks about its
// streams: is this an interactive terminal, how wide is it, and should
// output be coloured.
package terminal

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Interactive reports whether f is a terminal, including Cygwin and MSYS
// ptys.
func Interactive(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ColorEnabled follows NO_COLOR, TERM=dumb and the colour profile termenv
// derives for f. CLICOLOR_FORCE turns colour on for pipes.
func ColorEnabled(f *os.File) bool {
	if termenv.EnvNoColor() || os.Getenv("TERM") == "dumb" {
		return false
	}
	return Profile(f) != termenv.Ascii
}

// Profile returns the colour profile for f.
func Profile(f *os.File) termenv.Profile {
	if f == nil {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// PlainPrompt reports whether prompt segments should be uncoloured. Prompt
// hooks capture stdout through a pipe, so only NO_COLOR applies.
func PlainPrompt() bool {
	return termenv.EnvNoColor()
}
