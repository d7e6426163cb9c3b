package scanner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/stockscan/internal/keyboard"
	"github.com/vbonduro/stockscan/internal/loop"
)

const (
	DefaultPrompt       = "Reading barcode..."
	DefaultErrorDisplay = 3 * time.Second
)

type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// KeySource is the part of keyboard.Hub the overlay needs.
type KeySource interface {
	Acquire(owner string, l keyboard.Listener) (*keyboard.Guard, error)
}

type Options struct {
	Prompt       string
	ErrorDisplay time.Duration
	// OnCommit receives every committed barcode. The overlay stays open.
	OnCommit func(code string)
	// OnCancel runs on Escape. When nil the overlay closes itself.
	OnCancel func()
	// OnChange runs after every visible state change.
	OnChange func()
}

// View is a rendering snapshot of the overlay.
type View struct {
	Open    bool
	Buffer  string
	Status  Status
	Message string
	Session uint64
}

// Overlay is the full-screen scanning surface. While open it owns the
// keyboard and feeds keystrokes into its Buffer. All methods must be called
// on the event loop.
type Overlay struct {
	keys   KeySource
	poster loop.Poster
	opts   Options
	logger *slog.Logger

	guard   *keyboard.Guard
	buffer  Buffer
	status  Status
	message string
	session uint64

	revert    *time.Timer
	revertSeq uint64
}

func NewOverlay(keys KeySource, poster loop.Poster, opts Options, logger *slog.Logger) *Overlay {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = DefaultErrorDisplay
	}
	return &Overlay{keys: keys, poster: poster, opts: opts, logger: logger}
}

// Open shows the overlay with an empty buffer and the neutral prompt.
// Opening an already open overlay only resets it; the keyboard listener is
// never registered twice.
func (o *Overlay) Open() error {
	if o.guard == nil {
		g, err := o.keys.Acquire("scanner", o.handleKey)
		if err != nil {
			return fmt.Errorf("failed to open scanner: %w", err)
		}
		o.guard = g
		o.session++
		o.logger.Debug("scanner opened", "session", o.session)
	}
	o.cancelRevert()
	o.buffer.Reset()
	o.status = StatusActive
	o.message = o.opts.Prompt
	o.changed()
	return nil
}

// Close releases the keyboard and discards the buffer and any pending
// status revert.
func (o *Overlay) Close() {
	if o.guard == nil {
		return
	}
	o.guard.Release()
	o.guard = nil
	o.cancelRevert()
	o.buffer.Reset()
	o.status = StatusIdle
	o.message = ""
	o.logger.Debug("scanner closed", "session", o.session)
	o.changed()
}

func (o *Overlay) IsOpen() bool {
	return o.guard != nil
}

// Session identifies the current open period of the overlay.
func (o *Overlay) Session() uint64 {
	return o.session
}

// ShowError flags msg as an error until the error display delay passes, then
// reverts to the neutral prompt. A later ShowError or Close supersedes it.
func (o *Overlay) ShowError(msg string) {
	if !o.IsOpen() {
		return
	}
	o.cancelRevert()
	o.status = StatusError
	o.message = msg

	seq := o.revertSeq
	o.revert = time.AfterFunc(o.opts.ErrorDisplay, func() {
		o.poster.Post(func() {
			if seq != o.revertSeq || o.status != StatusError {
				return
			}
			o.status = StatusActive
			o.message = o.opts.Prompt
			o.changed()
		})
	})
	o.changed()
}

func (o *Overlay) View() View {
	return View{
		Open:    o.IsOpen(),
		Buffer:  o.buffer.String(),
		Status:  o.status,
		Message: o.message,
		Session: o.session,
	}
}

func (o *Overlay) handleKey(k keyboard.Key) {
	switch {
	case k.Name == keyboard.Enter:
		code, ok := o.buffer.Commit()
		if !ok {
			return
		}
		o.logger.Debug("barcode committed", "code", code, "session", o.session)
		o.changed()
		if o.opts.OnCommit != nil {
			o.opts.OnCommit(code)
		}
	case k.Name == keyboard.Escape:
		if o.opts.OnCancel != nil {
			o.opts.OnCancel()
			return
		}
		o.Close()
	case k.Name == keyboard.Backspace:
		o.buffer.Backspace()
		o.changed()
	case k.Printable():
		o.buffer.Append(k.Name)
		o.changed()
	}
}

// cancelRevert stops the pending timer and invalidates a revert that already
// fired but has not run on the loop yet.
func (o *Overlay) cancelRevert() {
	if o.revert != nil {
		o.revert.Stop()
		o.revert = nil
	}
	o.revertSeq++
}

func (o *Overlay) changed() {
	if o.opts.OnChange != nil {
		o.opts.OnChange()
	}
}
