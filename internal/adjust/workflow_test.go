package adjust

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/logging"
	"github.com/vbonduro/stockscan/internal/loop"
	"github.com/vbonduro/stockscan/internal/metrics"
)

type stubRefs struct {
	mu               sync.Mutex
	providers        []domain.Provider
	providersErr     error
	providerCalls    int
	destinations     []domain.Destination
	destinationsErr  error
	destinationCalls int
}

func (s *stubRefs) Providers(context.Context) ([]domain.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerCalls++
	return s.providers, s.providersErr
}

func (s *stubRefs) Destinations(context.Context) ([]domain.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinationCalls++
	return s.destinations, s.destinationsErr
}

func (s *stubRefs) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerCalls, s.destinationCalls
}

// stubSubmitter blocks each call until release is closed when release is set.
type stubSubmitter struct {
	mu       sync.Mutex
	requests []domain.AdjustmentRequest
	itemIDs  []int64
	reply    *domain.Item
	err      error
	release  chan struct{}
}

func (s *stubSubmitter) AdjustQuantity(_ context.Context, itemID int64, req domain.AdjustmentRequest) (*domain.Item, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.itemIDs = append(s.itemIDs, itemID)
	release := s.release
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply, s.err
}

func (s *stubSubmitter) sent() []domain.AdjustmentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AdjustmentRequest(nil), s.requests...)
}

type adjusted struct {
	req  domain.AdjustmentRequest
	item *domain.Item
}

type harness struct {
	loop      *loop.Loop
	refs      *stubRefs
	submitter *stubSubmitter
	metrics   *metrics.Metrics
	workflow  *Workflow
	adjusted  []adjusted
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop: loop.New(16),
		refs: &stubRefs{
			providers:    []domain.Provider{{ID: 1, Name: "Acme"}, {ID: 2, Name: "Globex"}},
			destinations: []domain.Destination{{ID: 5, Name: "Workshop"}},
		},
		submitter: &stubSubmitter{},
		metrics:   metrics.New("test"),
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

	h.workflow = New(h.refs, h.submitter, h.loop, Options{
		OnAdjusted: func(req domain.AdjustmentRequest, item *domain.Item) {
			h.adjusted = append(h.adjusted, adjusted{req: req, item: item})
		},
		Metrics: h.metrics,
	}, logging.Discard())
	return h
}

func (h *harness) do(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Call(context.Background(), fn))
}

// view is safe to call from assert.Eventually conditions.
func (h *harness) view() View {
	var v View
	_ = h.loop.Call(context.Background(), func() { v = h.workflow.View() })
	return v
}

func (h *harness) adjustedCount() int {
	var n int
	_ = h.loop.Call(context.Background(), func() { n = len(h.adjusted) })
	return n
}

var tenReams = domain.Item{ID: 7, Name: "Copy paper A4", CurrentQuantity: 10, UnitName: "ream"}

func TestOpenStartsBlank(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() { h.workflow.Open(tenReams) })

	v := h.view()
	assert.True(t, v.Open)
	assert.Equal(t, tenReams, v.Item)
	assert.Equal(t, Draft{}, v.Draft)
	assert.Empty(t, v.Errors)
	assert.Equal(t, ListIdle, v.Providers.State)
	assert.Equal(t, ListIdle, v.Destinations.State)

	p, d := h.refs.calls()
	assert.Zero(t, p, "nothing is fetched before a direction is chosen")
	assert.Zero(t, d)
}

func TestSelectDirectionLoadsOnlyItsList(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionRemove)
	})

	require.Eventually(t, func() bool { return h.view().Destinations.State == ListReady }, time.Second, 5*time.Millisecond)
	v := h.view()
	assert.Equal(t, []domain.Destination{{ID: 5, Name: "Workshop"}}, v.Destinations.Items)
	assert.Equal(t, ListIdle, v.Providers.State)

	p, d := h.refs.calls()
	assert.Zero(t, p)
	assert.Equal(t, 1, d)

	// choosing the same direction again does not refetch
	h.do(t, func() { h.workflow.SelectDirection(DirectionRemove) })
	_, d = h.refs.calls()
	assert.Equal(t, 1, d)
}

func TestRemoveWholeStockSubmits(t *testing.T) {
	h := newHarness(t)
	h.submitter.reply = &domain.Item{ID: 7, Name: "Copy paper A4", CurrentQuantity: 0}

	var err error
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionRemove)
		h.workflow.SelectDestination(5)
		h.workflow.SetQuantity("10")
		err = h.workflow.Submit()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.adjustedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.view().Open, "the form closes after a successful submit")

	sent := h.submitter.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.AdjustmentRequest{
		ChangeAmount:   10,
		AdjustmentType: domain.Removal,
		DestinationID:  id(5),
	}, sent[0])

	h.do(t, func() {
		assert.Equal(t, 0.0, h.adjusted[0].item.CurrentQuantity)
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Adjustments.WithLabelValues("removal", "ok")))
}

func TestAdditionRequestCarriesProviderAndCost(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(2)
		h.workflow.SetQuantity("2.5")
		h.workflow.SetUnitCost("3.20")
		h.workflow.SetPersonName("  Dana ")
		assert.NoError(t, h.workflow.Submit())
	})

	require.Eventually(t, func() bool { return len(h.submitter.sent()) == 1 }, time.Second, 5*time.Millisecond)
	req := h.submitter.sent()[0]
	assert.Equal(t, domain.Addition, req.AdjustmentType)
	assert.Equal(t, 2.5, req.ChangeAmount)
	require.NotNil(t, req.ProviderID)
	assert.Equal(t, int64(2), *req.ProviderID)
	require.NotNil(t, req.Cost)
	assert.Equal(t, 3.2, *req.Cost)
	require.NotNil(t, req.PersonName)
	assert.Equal(t, "Dana", *req.PersonName)
	assert.Nil(t, req.DestinationID)
}

func TestValidationBlocksSubmit(t *testing.T) {
	h := newHarness(t)

	var err error
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionRemove)
		h.workflow.SelectDestination(5)
		h.workflow.SetQuantity("11")
		err = h.workflow.Submit()
	})

	var verr *InputValidationError
	require.ErrorAs(t, err, &verr)
	v := h.view()
	assert.True(t, v.Open)
	assert.Equal(t, "Quantity exceeds the available stock", v.Errors[FieldQuantity])
	assert.False(t, v.Submitting)
	assert.Empty(t, h.submitter.sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Adjustments.WithLabelValues("removal", "invalid")))
}

func TestDirectionToggleKeepsInputAndClearsErrors(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionRemove)
		h.workflow.SetQuantity("4")
		h.workflow.SetPersonName("Sam")
		assert.Error(t, h.workflow.Submit())
	})
	require.Contains(t, h.view().Errors, FieldDestination)

	h.do(t, func() {
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectDirection(DirectionRemove)
	})

	v := h.view()
	assert.Empty(t, v.Errors)
	assert.Equal(t, DirectionRemove, v.Draft.Direction)
	assert.Equal(t, "4", v.Draft.Quantity)
	assert.Equal(t, "Sam", v.Draft.PersonName)

	require.Eventually(t, func() bool {
		p, d := h.refs.calls()
		return p == 1 && d == 2
	}, time.Second, 5*time.Millisecond)
}

func TestProviderFetchFailureKeepsFormUsable(t *testing.T) {
	h := newHarness(t)
	h.refs.providersErr = errors.New("connection refused")

	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
	})
	require.Eventually(t, func() bool { return h.view().Providers.State == ListFailed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, MsgProvidersFailed, h.view().Providers.Error)

	var err error
	h.do(t, func() {
		h.workflow.SetQuantity("0")
		h.workflow.SetPersonName("Sam")
		err = h.workflow.Submit()
	})
	var verr *InputValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Quantity must be greater than 0", verr.Fields[FieldQuantity])
	assert.Equal(t, "Select a provider", verr.Fields[FieldProvider])
	assert.Equal(t, "Sam", h.view().Draft.PersonName)

	// switching to remove still works
	h.do(t, func() { h.workflow.SelectDirection(DirectionRemove) })
	require.Eventually(t, func() bool { return h.view().Destinations.State == ListReady }, time.Second, 5*time.Millisecond)
}

func TestReopenResetsDraft(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(1)
		h.workflow.SetQuantity("0")
		h.workflow.SetUnitCost("1")
		h.workflow.SetPersonName("Sam")
		assert.Error(t, h.workflow.Submit())
	})
	require.NotEmpty(t, h.view().Errors)

	h.do(t, func() {
		h.workflow.Close()
		h.workflow.Open(tenReams)
	})

	v := h.view()
	assert.True(t, v.Open)
	assert.Equal(t, Draft{}, v.Draft)
	assert.Empty(t, v.Errors)
	assert.Empty(t, v.Providers.Items)
}

func TestSubmitIsGatedWhilePending(t *testing.T) {
	h := newHarness(t)
	h.submitter.release = make(chan struct{})

	var first, second error
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(1)
		h.workflow.SetQuantity("1")
		first = h.workflow.Submit()
		second = h.workflow.Submit()
	})
	require.NoError(t, first)
	assert.ErrorIs(t, second, ErrSubmitInFlight)
	assert.True(t, h.view().Submitting)

	close(h.submitter.release)
	require.Eventually(t, func() bool { return h.adjustedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.submitter.sent(), 1)
}

func TestRejectionIsShownVerbatim(t *testing.T) {
	h := newHarness(t)
	h.submitter.err = &backend.APIError{StatusCode: 400, Message: "Resulting quantity cannot be negative."}

	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionRemove)
		h.workflow.SelectDestination(5)
		h.workflow.SetQuantity("3")
		assert.NoError(t, h.workflow.Submit())
	})

	require.Eventually(t, func() bool { return !h.view().Submitting }, time.Second, 5*time.Millisecond)
	v := h.view()
	assert.True(t, v.Open)
	assert.Equal(t, "Resulting quantity cannot be negative.", v.Errors[FieldAPI])
	assert.Equal(t, "3", v.Draft.Quantity)
	assert.Zero(t, h.adjustedCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Adjustments.WithLabelValues("removal", "rejected")))
}

func TestTransientFailureShowsGenericMessage(t *testing.T) {
	h := newHarness(t)
	h.submitter.err = &backend.TransientError{Op: "adjust", Err: errors.New("timeout")}

	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(1)
		h.workflow.SetQuantity("3")
		assert.NoError(t, h.workflow.Submit())
	})

	require.Eventually(t, func() bool { return h.view().Errors[FieldAPI] != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, MsgUnexpected, h.view().Errors[FieldAPI])
	assert.True(t, h.view().Open)
}

func TestGatewayErrorPageShowsGenericMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t)
	client := backend.NewClient(srv.URL, time.Second, logging.Discard())
	h.workflow = New(h.refs, client, h.loop, Options{Metrics: h.metrics}, logging.Discard())

	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(1)
		h.workflow.SetQuantity("3")
		assert.NoError(t, h.workflow.Submit())
	})

	require.Eventually(t, func() bool { return h.view().Errors[FieldAPI] != "" }, time.Second, 5*time.Millisecond)
	v := h.view()
	assert.Equal(t, MsgUnexpected, v.Errors[FieldAPI])
	assert.True(t, v.Open)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Adjustments.WithLabelValues("addition", "failed")))
	assert.Zero(t, testutil.ToFloat64(h.metrics.Adjustments.WithLabelValues("addition", "rejected")))
}

func TestResultAfterCloseIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.submitter.release = make(chan struct{})

	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.SelectProvider(1)
		h.workflow.SetQuantity("3")
		assert.NoError(t, h.workflow.Submit())
	})
	h.do(t, func() {
		h.workflow.Close()
		h.workflow.Open(tenReams)
		h.workflow.SetQuantity("8")
	})

	close(h.submitter.release)
	require.Eventually(t, func() bool { return len(h.submitter.sent()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	v := h.view()
	assert.True(t, v.Open, "the new form is untouched")
	assert.Equal(t, "8", v.Draft.Quantity)
	assert.False(t, v.Submitting)
	assert.Zero(t, h.adjustedCount())
}

func TestStaleReferenceListIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.do(t, func() {
		h.workflow.Open(tenReams)
		h.workflow.SelectDirection(DirectionAdd)
		h.workflow.Close()
	})
	time.Sleep(20 * time.Millisecond)

	h.do(t, func() { h.workflow.Open(tenReams) })
	assert.Equal(t, ListIdle, h.view().Providers.State)
}

func TestClosedFormIgnoresInput(t *testing.T) {
	h := newHarness(t)
	var err error
	h.do(t, func() {
		h.workflow.SetQuantity("3")
		h.workflow.SelectDirection(DirectionAdd)
		err = h.workflow.Submit()
	})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Draft{}, h.view().Draft)
}
