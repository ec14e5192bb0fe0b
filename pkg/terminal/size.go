package terminal

import (
	"os"
	"strconv"

	"github.com/charmbracelet/x/term"
)

// Width returns f's width in cells. When f is not a terminal it falls back
// to $COLUMNS, and 0 means unknown.
func Width(f *os.File) int {
	if f != nil && term.IsTerminal(f.Fd()) {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
			return w
		}
	}
	return envInt("COLUMNS", 0)
}

// envInt reads an integer from the named environment variable. Returns
// the fallback value if the variable is unset, empty, or not a valid
// positive integer.
func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
