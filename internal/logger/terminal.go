package logger

import "github.com/mattn/go-isatty"

// isTerminal reports whether the file descriptor is attached to a terminal.
// Used to decide whether colored output is appropriate.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
