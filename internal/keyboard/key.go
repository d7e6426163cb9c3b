package keyboard

import "unicode/utf8"

// Named keys. Any other Key carries the typed character itself as Name.
const (
	Enter      = "Enter"
	Escape     = "Escape"
	Backspace  = "Backspace"
	Tab        = "Tab"
	ArrowUp    = "ArrowUp"
	ArrowDown  = "ArrowDown"
	ArrowLeft  = "ArrowLeft"
	ArrowRight = "ArrowRight"
	Unknown    = "Unidentified"
)

// Key is one keydown event.
type Key struct {
	Name string
	Ctrl bool
	Alt  bool
	Meta bool
}

// Char builds the event for a plain typed character.
func Char(r rune) Key {
	return Key{Name: string(r)}
}

// Printable reports whether k is a single character typed without Ctrl, Alt
// or Meta held.
func (k Key) Printable() bool {
	return utf8.RuneCountInString(k.Name) == 1 && !k.Ctrl && !k.Alt && !k.Meta
}

// Is reports whether k is the unmodified named key.
func (k Key) Is(name string) bool {
	return k.Name == name && !k.Ctrl && !k.Alt && !k.Meta
}

// IsCtrl reports whether k is Ctrl plus the given letter.
func (k Key) IsCtrl(letter string) bool {
	return k.Ctrl && k.Name == letter
}
