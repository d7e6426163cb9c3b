package keyboard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrBusy is returned by Acquire while another owner holds the keyboard.
var ErrBusy = errors.New("keyboard is held by another listener")

// Listener receives key events.
type Listener func(Key)

// Hub hands every key event to at most one listener, the way a focused
// surface owns the window's keydown stream. Dispatch is expected to be
// called from the event loop.
type Hub struct {
	mu     sync.Mutex
	active *registration
	logger *slog.Logger
}

type registration struct {
	owner    string
	listener Listener
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Acquire registers l as the only listener. The returned Guard must be
// released on every exit path; releasing twice is harmless.
func (h *Hub) Acquire(owner string, l Listener) (*Guard, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		return nil, fmt.Errorf("acquire keyboard for %s: %w (held by %s)", owner, ErrBusy, h.active.owner)
	}
	reg := &registration{owner: owner, listener: l}
	h.active = reg
	h.logger.Debug("keyboard acquired", "owner", owner)
	return &Guard{hub: h, reg: reg}, nil
}

// Owner returns the name of the current holder, or "" when free.
func (h *Hub) Owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return ""
	}
	return h.active.owner
}

// Dispatch delivers k to the active listener. It reports false when nobody
// is listening.
func (h *Hub) Dispatch(k Key) bool {
	h.mu.Lock()
	reg := h.active
	h.mu.Unlock()
	if reg == nil {
		return false
	}
	reg.listener(k)
	return true
}

func (h *Hub) release(reg *registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == reg {
		h.active = nil
		h.logger.Debug("keyboard released", "owner", reg.owner)
	}
}

// Guard is the scoped ownership of the keyboard returned by Acquire.
type Guard struct {
	hub  *Hub
	reg  *registration
	once sync.Once
}

func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() { g.hub.release(g.reg) })
}
