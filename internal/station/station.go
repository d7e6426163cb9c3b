// Package station is the scanning station's state container. It decides
// which of the scanner overlay and the adjustment form is on screen, holds
// the item being adjusted and tells subscribed views when anything changed.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbonduro/stockscan/internal/adjust"
	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/keyboard"
	"github.com/vbonduro/stockscan/internal/loop"
	"github.com/vbonduro/stockscan/internal/metrics"
	"github.com/vbonduro/stockscan/internal/resolve"
	"github.com/vbonduro/stockscan/internal/scanner"
)

type Stage int

const (
	Idle Stage = iota
	Scanning
	Adjusting
)

func (s Stage) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Adjusting:
		return "adjusting"
	default:
		return "idle"
	}
}

// Origin records how the item being adjusted was picked.
type Origin int

const (
	OriginScan Origin = iota
	OriginManual
)

func (o Origin) String() string {
	if o == OriginManual {
		return "manual"
	}
	return "scan"
}

const (
	MsgNoMatch      = "No matching item found"
	MsgLookupFailed = "Unexpected error, try again"
)

var (
	ErrAdjusting = errors.New("an adjustment is open")
	ErrNotIdle   = errors.New("station is busy")
)

type Resolver interface {
	Resolve(ctx context.Context, code string) resolve.Result
}

type ItemSource interface {
	Item(ctx context.Context, id int64) (*domain.Item, error)
}

// Deps are the collaborators a Station drives.
type Deps struct {
	Keys       scanner.KeySource
	Loop       loop.Poster
	Resolver   Resolver
	Items      ItemSource
	References adjust.ReferenceSource
	Submitter  adjust.Submitter
}

type Options struct {
	// ContinuousScan reopens the scanner when a scanned item's adjustment
	// is saved or cancelled.
	ContinuousScan bool
	ErrorDisplay   time.Duration
	// OnAdjusted runs after every saved adjustment so dependent views can
	// refresh. after is nil when the backend did not echo the item.
	OnAdjusted func(before domain.Item, after *domain.Item)
	Metrics    *metrics.Metrics
}

// Snapshot is what views render. It is a copy and never changes.
type Snapshot struct {
	Stage      Stage
	Item       *domain.Item
	Origin     Origin
	Scanner    scanner.View
	Adjustment adjust.View
	Notice     string
	Pending    bool
}

// Station must only be used from the event loop goroutine.
type Station struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	overlay  *scanner.Overlay
	workflow *adjust.Workflow

	stage     Stage
	item      *domain.Item
	origin    Origin
	notice    string
	lookupSeq uint64
	manualSeq uint64
	pending   bool

	formGuard *keyboard.Guard
	formKeys  keyboard.Listener

	subs    map[int]func(Snapshot)
	nextSub int
	holding int
	dirty   bool
}

func New(deps Deps, opts Options, logger *slog.Logger) *Station {
	s := &Station{
		deps:   deps,
		opts:   opts,
		logger: logger,
		subs:   make(map[int]func(Snapshot)),
	}
	s.overlay = scanner.NewOverlay(deps.Keys, deps.Loop, scanner.Options{
		ErrorDisplay: opts.ErrorDisplay,
		OnCommit:     s.HandleBarcodeScan,
		OnCancel:     s.CloseScanner,
		OnChange:     s.changed,
	}, logger)
	s.workflow = adjust.New(deps.References, deps.Submitter, deps.Loop, adjust.Options{
		OnChange:   s.changed,
		OnAdjusted: s.adjusted,
		Metrics:    opts.Metrics,
	}, logger)
	return s
}

// BindFormKeys sets the listener that receives keys while the adjustment
// form is open.
func (s *Station) BindFormKeys(l keyboard.Listener) {
	s.formKeys = l
}

// Form gives views access to the open adjustment form.
func (s *Station) Form() *adjust.Workflow {
	return s.workflow
}

func (s *Station) Stage() Stage {
	return s.stage
}

// OpenScanner enters the scanning stage. It is refused while an adjustment
// is open; CloseAdjustment(true) is the way from there.
func (s *Station) OpenScanner() error {
	if s.stage == Adjusting {
		return ErrAdjusting
	}
	var err error
	s.batch(func() {
		if err = s.overlay.Open(); err != nil {
			return
		}
		s.stage = Scanning
		s.notice = ""
		s.manualSeq++
		s.pending = false
		s.changed()
	})
	if err != nil {
		s.logger.Error("failed to open scanner", "error", err)
	}
	return err
}

// CloseScanner leaves the scanning stage. A lookup still in flight will be
// ignored when it lands.
func (s *Station) CloseScanner() {
	if s.stage != Scanning {
		return
	}
	s.batch(func() {
		s.lookupSeq++
		s.overlay.Close()
		s.stage = Idle
		s.changed()
	})
}

// HandleBarcodeScan resolves code off the loop and applies the result only
// if the same scanner session is still waiting for it.
func (s *Station) HandleBarcodeScan(code string) {
	if s.stage != Scanning {
		s.logger.Warn("barcode ignored outside scanning", "code", code, "stage", s.stage.String())
		return
	}
	s.lookupSeq++
	seq, session := s.lookupSeq, s.overlay.Session()
	go func() {
		res := s.deps.Resolver.Resolve(context.Background(), code)
		s.deps.Loop.Post(func() { s.applyLookup(seq, session, res) })
	}()
}

func (s *Station) applyLookup(seq, session uint64, res resolve.Result) {
	s.opts.Metrics.ScanResolved(res.Outcome.String())
	if seq != s.lookupSeq || session != s.overlay.Session() || s.stage != Scanning {
		s.logger.Info("dropping stale lookup result", "code", res.Code, "outcome", res.Outcome.String())
		return
	}
	s.batch(func() {
		switch res.Outcome {
		case resolve.Found:
			s.openAdjustment(*res.Item, OriginScan)
		case resolve.NotFound:
			s.overlay.ShowError(MsgNoMatch)
		default:
			s.overlay.ShowError(MsgLookupFailed)
		}
	})
}

// AdjustItem looks an item up by id and opens the adjustment form for it
// without going through the scanner. Only allowed from idle.
func (s *Station) AdjustItem(id int64) error {
	if s.stage != Idle {
		return ErrNotIdle
	}
	if id <= 0 {
		return fmt.Errorf("invalid item id %d", id)
	}
	s.manualSeq++
	seq := s.manualSeq
	s.pending = true
	s.notice = ""
	s.changed()

	go func() {
		item, err := s.deps.Items.Item(context.Background(), id)
		s.deps.Loop.Post(func() { s.applyManual(seq, id, item, err) })
	}()
	return nil
}

func (s *Station) applyManual(seq uint64, id int64, item *domain.Item, err error) {
	if seq != s.manualSeq || s.stage != Idle {
		s.logger.Info("dropping stale item lookup", "item_id", id)
		return
	}
	s.batch(func() {
		s.pending = false
		switch {
		case err == nil && item != nil:
			s.openAdjustment(*item, OriginManual)
			return
		case errors.Is(err, backend.ErrNotFound):
			s.notice = fmt.Sprintf("No item with id %d", id)
		default:
			s.logger.Error("item lookup failed", "item_id", id, "error", err)
			s.notice = MsgLookupFailed
		}
		s.changed()
	})
}

// openAdjustment swaps the scanner for the adjustment form. The scanner
// releases the keyboard before the form takes it.
func (s *Station) openAdjustment(item domain.Item, origin Origin) {
	s.overlay.Close()
	guard, err := s.deps.Keys.Acquire("adjustment", s.formKey)
	if err != nil {
		s.logger.Error("failed to open adjustment", "item_id", item.ID, "error", err)
		s.stage = Idle
		s.notice = MsgLookupFailed
		s.changed()
		return
	}
	s.formGuard = guard
	s.item = &item
	s.origin = origin
	s.stage = Adjusting
	s.notice = ""
	s.workflow.Open(item)
	s.logger.Info("adjusting item", "item_id", item.ID, "origin", origin.String())
	s.changed()
}

func (s *Station) formKey(k keyboard.Key) {
	if s.formKeys != nil {
		s.formKeys(k)
	}
}

// CloseAdjustment closes the form and drops the held item. With
// reopenScanner the station goes straight back to scanning.
func (s *Station) CloseAdjustment(reopenScanner bool) {
	if s.stage != Adjusting {
		return
	}
	s.batch(func() {
		s.workflow.Close()
		s.formGuard.Release()
		s.formGuard = nil
		s.item = nil
		s.stage = Idle
		s.changed()
		if reopenScanner {
			_ = s.OpenScanner()
		}
	})
}

// CancelAdjustment is the operator backing out of the form.
func (s *Station) CancelAdjustment() {
	s.CloseAdjustment(s.reopenAfterAdjustment())
}

func (s *Station) reopenAfterAdjustment() bool {
	return s.opts.ContinuousScan && s.origin == OriginScan
}

func (s *Station) adjusted(req domain.AdjustmentRequest, after *domain.Item) {
	if s.item == nil {
		return
	}
	before := *s.item
	s.batch(func() {
		reopen := s.reopenAfterAdjustment()
		s.CloseAdjustment(reopen)
		s.notice = updateNotice(before, req, after)
		s.changed()
	})
	if s.opts.OnAdjusted != nil {
		s.opts.OnAdjusted(before, after)
	}
}

func updateNotice(before domain.Item, req domain.AdjustmentRequest, after *domain.Item) string {
	verb := "Added"
	if req.AdjustmentType == domain.Removal {
		verb = "Removed"
	}
	msg := fmt.Sprintf("%s %g %s", verb, req.ChangeAmount, before.Name)
	if after != nil {
		msg += fmt.Sprintf(", now %g %s", after.CurrentQuantity, after.UnitName)
	}
	return msg
}

// Snapshot copies the current state for rendering.
func (s *Station) Snapshot() Snapshot {
	snap := Snapshot{
		Stage:      s.stage,
		Origin:     s.origin,
		Scanner:    s.overlay.View(),
		Adjustment: s.workflow.View(),
		Notice:     s.notice,
		Pending:    s.pending,
	}
	if s.item != nil {
		item := *s.item
		snap.Item = &item
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned func removes it.
func (s *Station) Subscribe(fn func(Snapshot)) func() {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() { delete(s.subs, id) }
}

// batch defers notifications until fn returns so subscribers never see a
// half-finished transition.
func (s *Station) batch(fn func()) {
	s.holding++
	fn()
	s.holding--
	if s.holding == 0 && s.dirty {
		s.dirty = false
		s.publish()
	}
}

func (s *Station) changed() {
	if s.holding > 0 {
		s.dirty = true
		return
	}
	s.publish()
}

func (s *Station) publish() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range s.subs {
		fn(snap)
	}
}
