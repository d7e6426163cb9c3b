package keyboard

import (
	"errors"
	"io"
	"unicode/utf8"
)

// Decoder turns the byte stream of a raw-mode terminal into key events. A
// USB barcode scanner in keyboard mode shows up here exactly like a fast
// typist: the code's characters followed by CR (or CR LF).
type Decoder struct {
	r      io.Reader
	buf    []byte
	lastCR bool
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, 256)}
}

// Run reads until the reader fails and calls emit for every decoded key.
// io.EOF is reported as a nil error. Run blocks in Read, so callers stop it
// by closing the underlying reader.
func (d *Decoder) Run(emit func(Key)) error {
	for {
		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.decode(d.buf[:n], emit)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (d *Decoder) decode(p []byte, emit func(Key)) {
	for i := 0; i < len(p); {
		b := p[i]
		if b == '\n' && d.lastCR {
			d.lastCR = false
			i++
			continue
		}
		d.lastCR = b == '\r'

		switch {
		case b == 0x1b:
			i += d.escape(p[i:], emit)
			continue
		case b == '\r' || b == '\n':
			emit(Key{Name: Enter})
		case b == 0x7f || b == 0x08:
			emit(Key{Name: Backspace})
		case b == '\t':
			emit(Key{Name: Tab})
		case b < 0x20:
			if b >= 0x01 && b <= 0x1a {
				emit(Key{Name: string(rune('a' + b - 1)), Ctrl: true})
			}
		default:
			r, size := utf8.DecodeRune(p[i:])
			if r != utf8.RuneError || size > 1 {
				emit(Char(r))
			}
			i += size
			continue
		}
		i++
	}
}

// escape decodes a sequence starting with ESC and returns how many bytes it
// consumed. A lone ESC at the end of a read is the Escape key.
func (d *Decoder) escape(p []byte, emit func(Key)) int {
	if len(p) == 1 {
		emit(Key{Name: Escape})
		return 1
	}
	switch p[1] {
	case '[', 'O':
		j := 2
		for j < len(p) && (p[j] < 0x40 || p[j] > 0x7e) {
			j++
		}
		if j == len(p) {
			emit(Key{Name: Unknown})
			return j
		}
		emit(Key{Name: csiName(p[j])})
		return j + 1
	case 0x1b:
		emit(Key{Name: Escape})
		return 1
	default:
		r, size := utf8.DecodeRune(p[1:])
		emit(Key{Name: string(r), Alt: true})
		return 1 + size
	}
}

func csiName(final byte) string {
	switch final {
	case 'A':
		return ArrowUp
	case 'B':
		return ArrowDown
	case 'C':
		return ArrowRight
	case 'D':
		return ArrowLeft
	default:
		return Unknown
	}
}
