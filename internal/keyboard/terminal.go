package keyboard

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// RawMode switches f into raw mode so every keystroke arrives unbuffered and
// unechoed. The returned restore func puts the terminal back and must be
// deferred by the caller.
func RawMode(f *os.File) (func() error, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%s is not a terminal", f.Name())
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	return func() error { return term.Restore(fd, state) }, nil
}
