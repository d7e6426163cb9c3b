// Package adjust implements the stock adjustment form: direction choice,
// lazily loaded reference lists, validation and the asynchronous submit.
package adjust

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/loop"
	"github.com/vbonduro/stockscan/internal/metrics"
)

// Direction is the way an adjustment moves stock. The zero value means the
// operator has not chosen yet.
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionAdd    Direction = "add"
	DirectionRemove Direction = "remove"
)

func (d Direction) AdjustmentType() domain.AdjustmentType {
	switch d {
	case DirectionAdd:
		return domain.Addition
	case DirectionRemove:
		return domain.Removal
	default:
		return ""
	}
}

var (
	ErrSubmitInFlight = errors.New("an adjustment is already being submitted")
	ErrClosed         = errors.New("adjustment form is not open")
)

const (
	MsgUnexpected         = "Unexpected error, try again"
	MsgProvidersFailed    = "Failed to fetch providers"
	MsgDestinationsFailed = "Failed to fetch destinations"
)

// ReferenceSource serves the selection lists of the form.
type ReferenceSource interface {
	Providers(ctx context.Context) ([]domain.Provider, error)
	Destinations(ctx context.Context) ([]domain.Destination, error)
}

type Submitter interface {
	AdjustQuantity(ctx context.Context, itemID int64, req domain.AdjustmentRequest) (*domain.Item, error)
}

// Draft is the text the operator has entered so far.
type Draft struct {
	Direction     Direction
	Quantity      string
	PersonName    string
	ProviderID    *int64
	UnitCost      string
	DestinationID *int64
}

type ListState int

const (
	ListIdle ListState = iota
	ListLoading
	ListReady
	ListFailed
)

// RefList is one lazily fetched selection list.
type RefList[T any] struct {
	State ListState
	Items []T
	Error string
}

type Options struct {
	// OnChange runs after every visible state change.
	OnChange func()
	// OnAdjusted runs once the backend accepted a change. item is the
	// updated record, nil when the reply carried none. The workflow closes
	// itself afterwards unless the callback already did.
	OnAdjusted func(req domain.AdjustmentRequest, item *domain.Item)
	Metrics    *metrics.Metrics
}

// View is a rendering snapshot of the form.
type View struct {
	Open         bool
	Item         domain.Item
	Draft        Draft
	Providers    RefList[domain.Provider]
	Destinations RefList[domain.Destination]
	Errors       FieldErrors
	Submitting   bool
}

// Workflow holds one adjustment form. All methods run on the event loop;
// network calls run on their own goroutines and post back. Every Open and
// Close starts a new generation, and results from an older one are dropped.
type Workflow struct {
	refs      ReferenceSource
	submitter Submitter
	poster    loop.Poster
	opts      Options
	logger    *slog.Logger

	open       bool
	item       domain.Item
	draft      Draft
	errors     FieldErrors
	submitting bool
	gen        uint64

	providers       RefList[domain.Provider]
	providersSeq    uint64
	destinations    RefList[domain.Destination]
	destinationsSeq uint64
}

func New(refs ReferenceSource, submitter Submitter, poster loop.Poster, opts Options, logger *slog.Logger) *Workflow {
	return &Workflow{
		refs:      refs,
		submitter: submitter,
		poster:    poster,
		opts:      opts,
		logger:    logger,
		errors:    FieldErrors{},
	}
}

// Open starts a blank form for item. Reopening always resets every field,
// even for the same item.
func (w *Workflow) Open(item domain.Item) {
	w.reset()
	w.open = true
	w.item = item
	w.logger.Debug("adjustment opened", "item_id", item.ID, "generation", w.gen)
	w.changed()
}

// Close discards the draft. An in-flight submit still reaches the backend
// but its result is ignored.
func (w *Workflow) Close() {
	if !w.open {
		return
	}
	w.reset()
	w.logger.Debug("adjustment closed", "item_id", w.item.ID)
	w.item = domain.Item{}
	w.changed()
}

func (w *Workflow) IsOpen() bool {
	return w.open
}

func (w *Workflow) reset() {
	w.gen++
	w.open = false
	w.draft = Draft{}
	w.errors = FieldErrors{}
	w.submitting = false
	w.providers = RefList[domain.Provider]{}
	w.destinations = RefList[domain.Destination]{}
}

// SelectDirection clears the validation errors and, when the direction
// changes, fetches the list that direction needs. Everything already typed
// is kept.
func (w *Workflow) SelectDirection(d Direction) {
	if !w.open || (d != DirectionAdd && d != DirectionRemove) {
		return
	}
	w.errors = FieldErrors{}
	if d != w.draft.Direction {
		w.draft.Direction = d
		if d == DirectionAdd {
			fetch(w, &w.providers, &w.providersSeq, "providers", MsgProvidersFailed, w.refs.Providers)
		} else {
			fetch(w, &w.destinations, &w.destinationsSeq, "destinations", MsgDestinationsFailed, w.refs.Destinations)
		}
	}
	w.changed()
}

func (w *Workflow) SetQuantity(s string) {
	w.edit(func(d *Draft) { d.Quantity = s })
}

func (w *Workflow) SetPersonName(s string) {
	w.edit(func(d *Draft) { d.PersonName = s })
}

func (w *Workflow) SetUnitCost(s string) {
	w.edit(func(d *Draft) { d.UnitCost = s })
}

func (w *Workflow) SelectProvider(id int64) {
	w.edit(func(d *Draft) { d.ProviderID = &id })
}

func (w *Workflow) SelectDestination(id int64) {
	w.edit(func(d *Draft) { d.DestinationID = &id })
}

func (w *Workflow) edit(fn func(*Draft)) {
	if !w.open {
		return
	}
	fn(&w.draft)
	w.changed()
}

// Submit validates the draft and, when it passes, sends it. Validation
// failures come back as *InputValidationError and are also kept for the
// view. Only one submit may be pending at a time.
func (w *Workflow) Submit() error {
	if !w.open {
		return ErrClosed
	}
	if w.submitting {
		return ErrSubmitInFlight
	}

	if err := Validate(w.draft, w.item.CurrentQuantity); err != nil {
		var verr *InputValidationError
		if errors.As(err, &verr) {
			w.errors = verr.Fields.clone()
		}
		w.opts.Metrics.AdjustmentFinished(kind(w.draft.Direction), "invalid")
		w.changed()
		return err
	}

	req := buildRequest(w.draft)
	itemID := w.item.ID
	gen := w.gen
	w.errors = FieldErrors{}
	w.submitting = true
	w.changed()

	w.logger.Info("submitting adjustment", "item_id", itemID, "type", req.AdjustmentType, "amount", req.ChangeAmount)
	go func() {
		updated, err := w.submitter.AdjustQuantity(context.Background(), itemID, req)
		w.poster.Post(func() { w.finishSubmit(gen, itemID, req, updated, err) })
	}()
	return nil
}

func (w *Workflow) finishSubmit(gen uint64, itemID int64, req domain.AdjustmentRequest, updated *domain.Item, err error) {
	if gen != w.gen {
		w.logger.Info("ignoring adjustment result for a closed form", "item_id", itemID, "error", err)
		return
	}
	w.submitting = false

	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			w.errors[FieldAPI] = apiErr.Message
			w.opts.Metrics.AdjustmentFinished(string(req.AdjustmentType), "rejected")
			w.logger.Warn("adjustment rejected", "item_id", itemID, "status", apiErr.StatusCode, "message", apiErr.Message)
		} else {
			w.errors[FieldAPI] = MsgUnexpected
			w.opts.Metrics.AdjustmentFinished(string(req.AdjustmentType), "failed")
			w.logger.Error("adjustment failed", "item_id", itemID, "transient", backend.IsTransient(err), "error", err)
		}
		w.changed()
		return
	}

	w.opts.Metrics.AdjustmentFinished(string(req.AdjustmentType), "ok")
	w.logger.Info("stock adjusted", "item_id", itemID, "type", req.AdjustmentType, "amount", req.ChangeAmount)
	if w.opts.OnAdjusted != nil {
		w.opts.OnAdjusted(req, updated)
	}
	if gen == w.gen {
		w.Close()
	}
}

// View returns a copy that stays valid after further edits.
func (w *Workflow) View() View {
	v := View{
		Open:         w.open,
		Item:         w.item,
		Draft:        w.draft,
		Providers:    w.providers,
		Destinations: w.destinations,
		Errors:       w.errors.clone(),
		Submitting:   w.submitting,
	}
	v.Draft.ProviderID = clonePtr(w.draft.ProviderID)
	v.Draft.DestinationID = clonePtr(w.draft.DestinationID)
	return v
}

func (w *Workflow) changed() {
	if w.opts.OnChange != nil {
		w.opts.OnChange()
	}
}

// fetch loads one reference list off the loop. A newer fetch of the same
// list, or a new generation, makes the result stale.
func fetch[T any](w *Workflow, list *RefList[T], seq *uint64, name, failure string, get func(context.Context) ([]T, error)) {
	*seq++
	mySeq, gen := *seq, w.gen
	list.State = ListLoading
	list.Error = ""

	go func() {
		items, err := get(context.Background())
		w.poster.Post(func() {
			if gen != w.gen || mySeq != *seq {
				return
			}
			if err != nil {
				w.logger.Error("failed to load reference list", "list", name, "error", err)
				list.State = ListFailed
				list.Error = failure
			} else {
				list.State = ListReady
				list.Items = items
			}
			w.changed()
		})
	}()
}

func buildRequest(d Draft) domain.AdjustmentRequest {
	amount, _ := parseNumber(strings.TrimSpace(d.Quantity))
	req := domain.AdjustmentRequest{
		ChangeAmount:   amount,
		AdjustmentType: d.Direction.AdjustmentType(),
	}
	if name := strings.TrimSpace(d.PersonName); name != "" {
		req.PersonName = &name
	}
	switch d.Direction {
	case DirectionAdd:
		req.ProviderID = clonePtr(d.ProviderID)
		if cost, ok := parseNumber(strings.TrimSpace(d.UnitCost)); ok {
			req.Cost = &cost
		}
	case DirectionRemove:
		req.DestinationID = clonePtr(d.DestinationID)
	}
	return req
}

func kind(d Direction) string {
	if t := d.AdjustmentType(); t != "" {
		return string(t)
	}
	return "unknown"
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
