package scanner

import "strings"

// Buffer accumulates the characters typed since the last commit or reset.
type Buffer struct {
	runes []rune
}

// Append adds the characters of s.
func (b *Buffer) Append(s string) {
	b.runes = append(b.runes, []rune(s)...)
}

// Backspace drops the last character. It is a no-op on an empty buffer.
func (b *Buffer) Backspace() {
	if len(b.runes) > 0 {
		b.runes = b.runes[:len(b.runes)-1]
	}
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.runes = b.runes[:0]
}

// String returns the untrimmed contents.
func (b *Buffer) String() string {
	return string(b.runes)
}

// Len counts runes, not bytes.
func (b *Buffer) Len() int {
	return len(b.runes)
}

// Commit returns the trimmed contents and empties the buffer. When the
// trimmed contents are empty nothing is committed and the buffer is kept.
func (b *Buffer) Commit() (string, bool) {
	code := strings.TrimSpace(b.String())
	if code == "" {
		return "", false
	}
	b.Reset()
	return code, true
}
