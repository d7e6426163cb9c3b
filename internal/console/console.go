// Package console draws the station on a terminal and routes the keys that
// no capturing surface has claimed.
package console

import (
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/vbonduro/stockscan/internal/adjust"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/keyboard"
	"github.com/vbonduro/stockscan/internal/station"
)

// Dispatcher is the part of keyboard.Hub that hands keys to the surface
// currently holding the keyboard.
type Dispatcher interface {
	Dispatch(k keyboard.Key) bool
}

type formField int

const (
	fieldQuantity formField = iota
	fieldProvider
	fieldCost
	fieldDestination
	fieldPerson
)

func fieldsFor(d adjust.Direction) []formField {
	switch d {
	case adjust.DirectionAdd:
		return []formField{fieldQuantity, fieldProvider, fieldCost, fieldPerson}
	case adjust.DirectionRemove:
		return []formField{fieldQuantity, fieldDestination, fieldPerson}
	default:
		return nil
	}
}

type menuState struct {
	enteringID bool
	id         string
}

// Console must be driven from the event loop, like the station it renders.
type Console struct {
	out    io.Writer
	st     *station.Station
	keys   Dispatcher
	quit   func()
	logger *slog.Logger

	menu  menuState
	focus int
	last  station.Snapshot
}

func New(out io.Writer, st *station.Station, keys Dispatcher, quit func(), logger *slog.Logger) *Console {
	return &Console{out: out, st: st, keys: keys, quit: quit, logger: logger}
}

// Start hooks the console into the station and draws the first frame. The
// returned func detaches it.
func (c *Console) Start() func() {
	c.st.BindFormKeys(c.handleFormKey)
	unsubscribe := c.st.Subscribe(c.render)
	c.render(c.st.Snapshot())
	return func() {
		unsubscribe()
		c.st.BindFormKeys(nil)
	}
}

// HandleKey is the entry point for every decoded key. Ctrl-C always quits;
// anything else goes to the surface holding the keyboard, or to the menu
// when nobody does.
func (c *Console) HandleKey(k keyboard.Key) {
	if k.IsCtrl("c") {
		c.quit()
		return
	}
	if c.keys.Dispatch(k) {
		return
	}
	c.handleMenuKey(k)
}

func (c *Console) handleMenuKey(k keyboard.Key) {
	if c.st.Stage() != station.Idle {
		return
	}
	if c.menu.enteringID {
		c.handleIDKey(k)
		return
	}
	switch {
	case k.Is("s"):
		if err := c.st.OpenScanner(); err != nil {
			c.logger.Error("failed to start scanning", "error", err)
		}
	case k.Is("i"):
		c.menu = menuState{enteringID: true}
		c.redraw()
	case k.Is("q"):
		c.quit()
	}
}

func (c *Console) handleIDKey(k keyboard.Key) {
	switch {
	case k.Name == keyboard.Escape:
		c.menu = menuState{}
	case k.Name == keyboard.Backspace:
		if n := len(c.menu.id); n > 0 {
			c.menu.id = c.menu.id[:n-1]
		}
	case k.Name == keyboard.Enter:
		id, err := strconv.ParseInt(c.menu.id, 10, 64)
		c.menu = menuState{}
		if err != nil {
			break
		}
		if err := c.st.AdjustItem(id); err != nil {
			c.logger.Warn("cannot adjust item", "item_id", id, "error", err)
		}
		return
	case k.Printable() && k.Name >= "0" && k.Name <= "9":
		c.menu.id += k.Name
	default:
		return
	}
	c.redraw()
}

func (c *Console) handleFormKey(k keyboard.Key) {
	form := c.st.Form()
	view := form.View()
	fields := fieldsFor(view.Draft.Direction)

	switch {
	case k.Name == keyboard.Escape:
		c.st.CancelAdjustment()
		return
	case k.IsCtrl("a"):
		form.SelectDirection(adjust.DirectionAdd)
		return
	case k.IsCtrl("r"):
		form.SelectDirection(adjust.DirectionRemove)
		return
	}

	if len(fields) == 0 {
		switch {
		case k.Is("a"):
			c.focus = 0
			form.SelectDirection(adjust.DirectionAdd)
		case k.Is("r"):
			c.focus = 0
			form.SelectDirection(adjust.DirectionRemove)
		case k.Name == keyboard.Enter:
			c.submit(form)
		}
		return
	}

	if c.focus >= len(fields) {
		c.focus = len(fields) - 1
	}
	field := fields[c.focus]

	switch {
	case k.Name == keyboard.Tab || k.Name == keyboard.ArrowDown:
		c.focus = (c.focus + 1) % len(fields)
		c.redraw()
	case k.Name == keyboard.ArrowUp:
		c.focus = (c.focus + len(fields) - 1) % len(fields)
		c.redraw()
	case k.Name == keyboard.Enter:
		if c.focus == len(fields)-1 {
			c.submit(form)
			return
		}
		c.focus++
		c.redraw()
	case k.Name == keyboard.ArrowLeft || k.Name == keyboard.ArrowRight:
		step := 1
		if k.Name == keyboard.ArrowLeft {
			step = -1
		}
		c.pick(form, view, field, step)
	case k.Name == keyboard.Backspace:
		c.editText(form, view, field, func(s string) string {
			r := []rune(s)
			if len(r) == 0 {
				return s
			}
			return string(r[:len(r)-1])
		})
	case k.Printable():
		c.editText(form, view, field, func(s string) string { return s + k.Name })
	}
}

func (c *Console) editText(form *adjust.Workflow, view adjust.View, field formField, edit func(string) string) {
	switch field {
	case fieldQuantity:
		form.SetQuantity(edit(view.Draft.Quantity))
	case fieldCost:
		form.SetUnitCost(edit(view.Draft.UnitCost))
	case fieldPerson:
		form.SetPersonName(edit(view.Draft.PersonName))
	}
}

func (c *Console) pick(form *adjust.Workflow, view adjust.View, field formField, step int) {
	switch field {
	case fieldProvider:
		ids := make([]int64, 0, len(view.Providers.Items))
		for _, p := range view.Providers.Items {
			ids = append(ids, p.ID)
		}
		if id, ok := cycle(ids, view.Draft.ProviderID, step); ok {
			form.SelectProvider(id)
		}
	case fieldDestination:
		ids := make([]int64, 0, len(view.Destinations.Items))
		for _, d := range view.Destinations.Items {
			ids = append(ids, d.ID)
		}
		if id, ok := cycle(ids, view.Draft.DestinationID, step); ok {
			form.SelectDestination(id)
		}
	}
}

// cycle moves the selection step places through ids, wrapping around. With
// nothing selected it starts at the first or last entry.
func cycle(ids []int64, current *int64, step int) (int64, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	idx := -1
	if current != nil {
		for i, id := range ids {
			if id == *current {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		if step < 0 {
			return ids[len(ids)-1], true
		}
		return ids[0], true
	}
	n := len(ids)
	return ids[((idx+step)%n+n)%n], true
}

func (c *Console) submit(form *adjust.Workflow) {
	err := form.Submit()
	var verr *adjust.InputValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		c.logger.Debug("adjustment not valid", "errors", describeErrors(verr.Fields))
	case errors.Is(err, adjust.ErrSubmitInFlight):
		c.logger.Debug("submit ignored while saving")
	default:
		c.logger.Error("submit failed", "error", err)
	}
}

func (c *Console) redraw() {
	c.render(c.st.Snapshot())
}

func (c *Console) render(snap station.Snapshot) {
	if snap.Stage == station.Adjusting && c.last.Stage != station.Adjusting {
		c.focus = 0
	}
	if snap.Stage != station.Idle {
		c.menu = menuState{}
	}
	c.last = snap

	var s screen
	switch snap.Stage {
	case station.Scanning:
		renderScanner(&s, snap)
	case station.Adjusting:
		renderForm(&s, snap, c.focusedField(snap.Adjustment.Draft.Direction))
	default:
		renderIdle(&s, snap, c.menu)
	}
	if err := s.flush(c.out); err != nil {
		c.logger.Error("failed to draw screen", "error", err)
	}
}

func (c *Console) focusedField(d adjust.Direction) formField {
	fields := fieldsFor(d)
	if len(fields) == 0 {
		return -1
	}
	if c.focus >= len(fields) {
		return fields[len(fields)-1]
	}
	return fields[c.focus]
}

// AdjustedNotice is a station.Options.OnAdjusted hook that logs saved
// changes.
func AdjustedNotice(logger *slog.Logger) func(before domain.Item, after *domain.Item) {
	return func(before domain.Item, after *domain.Item) {
		if after == nil {
			logger.Info("stock updated", "item_id", before.ID, "item", before.Name)
			return
		}
		logger.Info("stock updated", "item_id", before.ID, "item", before.Name,
			"before", before.CurrentQuantity, "after", after.CurrentQuantity)
	}
}
