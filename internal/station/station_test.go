package station

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/stockscan/internal/adjust"
	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/keyboard"
	"github.com/vbonduro/stockscan/internal/logging"
	"github.com/vbonduro/stockscan/internal/loop"
	"github.com/vbonduro/stockscan/internal/metrics"
	"github.com/vbonduro/stockscan/internal/resolve"
)

// stubResolver answers from a fixed table. Codes listed in hold block until
// the matching channel is closed.
type stubResolver struct {
	mu      sync.Mutex
	items   map[string]domain.Item
	failing map[string]bool
	hold    map[string]chan struct{}
	codes   []string
}

func (r *stubResolver) Resolve(_ context.Context, code string) resolve.Result {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	wait := r.hold[code]
	item, found := r.items[code]
	failing := r.failing[code]
	r.mu.Unlock()
	if wait != nil {
		<-wait
	}
	switch {
	case failing:
		return resolve.Result{Code: code, Outcome: resolve.LookupFailed, Err: fmt.Errorf("boom")}
	case found:
		return resolve.Result{Code: code, Outcome: resolve.Found, Item: &item}
	default:
		return resolve.Result{Code: code, Outcome: resolve.NotFound, Err: backend.ErrNotFound}
	}
}

type stubItems struct {
	items map[int64]domain.Item
}

func (s *stubItems) Item(_ context.Context, id int64) (*domain.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, backend.ErrNotFound)
	}
	return &item, nil
}

type stubBackend struct {
	mu       sync.Mutex
	requests []domain.AdjustmentRequest
}

func (b *stubBackend) Providers(context.Context) ([]domain.Provider, error) {
	return []domain.Provider{{ID: 1, Name: "Acme"}}, nil
}

func (b *stubBackend) Destinations(context.Context) ([]domain.Destination, error) {
	return []domain.Destination{{ID: 5, Name: "Workshop"}}, nil
}

func (b *stubBackend) AdjustQuantity(_ context.Context, _ int64, req domain.AdjustmentRequest) (*domain.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	after := domain.Item{ID: 7, Name: "Copy paper A4", CurrentQuantity: 10 - req.ChangeAmount, UnitName: "ream"}
	return &after, nil
}

var paper = domain.Item{ID: 7, Name: "Copy paper A4", CurrentQuantity: 10, UnitName: "ream", Status: domain.ItemActive}

type harness struct {
	hub      *keyboard.Hub
	loop     *loop.Loop
	resolver *stubResolver
	backend  *stubBackend
	metrics  *metrics.Metrics
	station  *Station
	adjusted []domain.Item
	formKeys []keyboard.Key
	history  []Snapshot
}

func newHarness(t *testing.T, continuous bool) *harness {
	t.Helper()
	h := &harness{
		hub:  keyboard.NewHub(logging.Discard()),
		loop: loop.New(16),
		resolver: &stubResolver{
			items:   map[string]domain.Item{"4006381333931": paper},
			failing: map[string]bool{"500": true},
			hold:    map[string]chan struct{}{},
		},
		backend: &stubBackend{},
		metrics: metrics.New("test"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = h.loop.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	h.station = New(Deps{
		Keys:       h.hub,
		Loop:       h.loop,
		Resolver:   h.resolver,
		Items:      &stubItems{items: map[int64]domain.Item{7: paper}},
		References: h.backend,
		Submitter:  h.backend,
	}, Options{
		ContinuousScan: continuous,
		ErrorDisplay:   time.Second,
		OnAdjusted:     func(before domain.Item, _ *domain.Item) { h.adjusted = append(h.adjusted, before) },
		Metrics:        h.metrics,
	}, logging.Discard())
	h.do(t, func() {
		h.station.BindFormKeys(func(k keyboard.Key) { h.formKeys = append(h.formKeys, k) })
		h.station.Subscribe(func(s Snapshot) { h.history = append(h.history, s) })
	})
	return h
}

func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Call(context.Background(), fn))
}

func (h *harness) snapshot() Snapshot {
	var s Snapshot
	_ = h.loop.Call(context.Background(), func() { s = h.station.Snapshot() })
	return s
}

func (h *harness) scan(t *testing.T, code string) {
	t.Helper()
	h.do(t, func() {
		for _, r := range code {
			h.hub.Dispatch(keyboard.Char(r))
		}
		h.hub.Dispatch(keyboard.Key{Name: keyboard.Enter})
	})
}

func (h *harness) waitStage(t *testing.T, stage Stage) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return h.snapshot().Stage == stage }, time.Second, 5*time.Millisecond)
	return h.snapshot()
}

func TestStartsIdle(t *testing.T) {
	h := newHarness(t, true)
	s := h.snapshot()
	assert.Equal(t, Idle, s.Stage)
	assert.Nil(t, s.Item)
	assert.False(t, s.Scanner.Open)
	assert.False(t, s.Adjustment.Open)
	assert.Equal(t, "", h.hub.Owner())
}

func TestScanOpensAdjustment(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	assert.Equal(t, "scanner", h.hub.Owner())

	h.scan(t, "4006381333931")

	s := h.waitStage(t, Adjusting)
	require.NotNil(t, s.Item)
	assert.Equal(t, int64(7), s.Item.ID)
	assert.Equal(t, OriginScan, s.Origin)
	assert.False(t, s.Scanner.Open)
	assert.True(t, s.Adjustment.Open)
	assert.Equal(t, paper, s.Adjustment.Item)
	assert.Equal(t, "adjustment", h.hub.Owner())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Scans.WithLabelValues("found")))
}

func TestUnknownBarcodeKeepsScanning(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })

	h.scan(t, "000")

	require.Eventually(t, func() bool { return h.snapshot().Scanner.Message == MsgNoMatch }, time.Second, 5*time.Millisecond)
	s := h.snapshot()
	assert.Equal(t, Scanning, s.Stage)
	assert.True(t, s.Scanner.Open)
	assert.Nil(t, s.Item)
}

func TestLookupFailureKeepsScanning(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })

	h.scan(t, "500")

	require.Eventually(t, func() bool { return h.snapshot().Scanner.Message == MsgLookupFailed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Scanning, h.snapshot().Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Scans.WithLabelValues("failed")))
}

func TestLookupAfterScannerReopenIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	release := make(chan struct{})
	h.resolver.hold["4006381333931"] = release

	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.do(t, func() {
		h.station.CloseScanner()
		assert.NoError(t, h.station.OpenScanner())
	})

	close(release)
	time.Sleep(30 * time.Millisecond)

	s := h.snapshot()
	assert.Equal(t, Scanning, s.Stage)
	assert.Nil(t, s.Item)
	assert.Equal(t, "scanner", h.hub.Owner())
}

func TestEscapeClosesScanner(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })

	h.do(t, func() { h.hub.Dispatch(keyboard.Key{Name: keyboard.Escape}) })

	s := h.snapshot()
	assert.Equal(t, Idle, s.Stage)
	assert.False(t, s.Scanner.Open)
	assert.Equal(t, "", h.hub.Owner())
}

func TestContinuousScanningAfterSave(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() {
		form := h.station.Form()
		form.SelectDirection(adjust.DirectionRemove)
		form.SelectDestination(5)
		form.SetQuantity("10")
		assert.NoError(t, form.Submit())
	})

	s := h.waitStage(t, Scanning)
	assert.Nil(t, s.Item)
	assert.True(t, s.Scanner.Open)
	assert.Equal(t, "", s.Scanner.Buffer)
	assert.False(t, s.Adjustment.Open)
	assert.Equal(t, "Removed 10 Copy paper A4, now 0 ream", s.Notice)
	assert.Equal(t, "scanner", h.hub.Owner())
	h.do(t, func() { assert.Equal(t, []domain.Item{paper}, h.adjusted) })
}

func TestCancelReturnsToScannerWhenContinuous(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() { h.station.CancelAdjustment() })

	s := h.snapshot()
	assert.Equal(t, Scanning, s.Stage)
	assert.Nil(t, s.Item)
}

func TestCancelReturnsToIdleWithoutContinuous(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() { h.station.CancelAdjustment() })

	s := h.snapshot()
	assert.Equal(t, Idle, s.Stage)
	assert.Equal(t, "", h.hub.Owner())
}

func TestCloseAdjustmentReopensOnRequest(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() { h.station.CloseAdjustment(true) })
	assert.Equal(t, Scanning, h.snapshot().Stage)
}

func TestOpenScannerRefusedWhileAdjusting(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() { assert.ErrorIs(t, h.station.OpenScanner(), ErrAdjusting) })
	assert.Equal(t, "adjustment", h.hub.Owner())
}

func TestFormReceivesKeysWhileAdjusting(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)

	h.do(t, func() { h.hub.Dispatch(keyboard.Char('r')) })
	h.do(t, func() { assert.Equal(t, []keyboard.Key{keyboard.Char('r')}, h.formKeys) })
}

func TestManualAdjustment(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.AdjustItem(7)) })

	s := h.waitStage(t, Adjusting)
	assert.Equal(t, OriginManual, s.Origin)
	assert.False(t, s.Pending)

	h.do(t, func() { h.station.CancelAdjustment() })
	assert.Equal(t, Idle, h.snapshot().Stage, "manual adjustments never reopen the scanner")
}

func TestManualAdjustmentUnknownItem(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.AdjustItem(99)) })

	require.Eventually(t, func() bool { return h.snapshot().Notice != "" }, time.Second, 5*time.Millisecond)
	s := h.snapshot()
	assert.Equal(t, Idle, s.Stage)
	assert.Equal(t, "No item with id 99", s.Notice)
	assert.False(t, s.Pending)
}

func TestManualAdjustmentRefusedWhenBusy(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() {
		assert.NoError(t, h.station.OpenScanner())
		assert.ErrorIs(t, h.station.AdjustItem(7), ErrNotIdle)
	})
	h.do(t, func() {
		h.station.CloseScanner()
		assert.Error(t, h.station.AdjustItem(0))
	})
}

func TestEveryPublishedSnapshotIsConsistent(t *testing.T) {
	h := newHarness(t, true)
	h.do(t, func() { assert.NoError(t, h.station.OpenScanner()) })
	h.scan(t, "000")
	h.scan(t, "4006381333931")
	h.waitStage(t, Adjusting)
	h.do(t, func() {
		form := h.station.Form()
		form.SelectDirection(adjust.DirectionAdd)
		form.SelectProvider(1)
		form.SetQuantity("2")
		assert.NoError(t, form.Submit())
	})
	h.waitStage(t, Scanning)
	h.do(t, func() { h.station.CloseScanner() })

	h.do(t, func() {
		require.NotEmpty(t, h.history)
		for i, s := range h.history {
			assert.Equal(t, s.Stage == Adjusting, s.Item != nil, "snapshot %d: item held only while adjusting", i)
			assert.False(t, s.Scanner.Open && s.Adjustment.Open, "snapshot %d: scanner and form both open", i)
			assert.Equal(t, s.Stage == Scanning, s.Scanner.Open, "snapshot %d", i)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, true)
	var calls int
	h.do(t, func() {
		unsubscribe := h.station.Subscribe(func(Snapshot) { calls++ })
		assert.NoError(t, h.station.OpenScanner())
		unsubscribe()
		h.station.CloseScanner()
	})
	h.do(t, func() { assert.Equal(t, 1, calls) })
}
