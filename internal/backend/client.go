package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/metrics"
)

const (
	breakerName             = "inventory-backend"
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	maxErrorBody            = 64 * 1024
)

// Client talks to the inventory REST backend. Every call goes through one
// circuit breaker; only transport failures and 5xx replies count against it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := statusCode(err)
			return code != 0 && code < http.StatusInternalServerError
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, float64(to))
		},
	})
	return c
}

// ItemByBarcode looks up the active item carrying code. A 404 is reported as
// ErrNotFound.
func (c *Client) ItemByBarcode(ctx context.Context, code string) (*domain.Item, error) {
	var item domain.Item
	err := c.do(ctx, "item_by_barcode", http.MethodGet, "/items/by-barcode/"+url.PathEscape(code), nil, &item)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("item with barcode %q", code))
	}
	return &item, nil
}

func (c *Client) Item(ctx context.Context, id int64) (*domain.Item, error) {
	var item domain.Item
	err := c.do(ctx, "item", http.MethodGet, fmt.Sprintf("/items/%d", id), nil, &item)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("item %d", id))
	}
	return &item, nil
}

func (c *Client) Providers(ctx context.Context) ([]domain.Provider, error) {
	var providers []domain.Provider
	if err := c.do(ctx, "providers", http.MethodGet, "/providers", nil, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (c *Client) Destinations(ctx context.Context) ([]domain.Destination, error) {
	var destinations []domain.Destination
	if err := c.do(ctx, "destinations", http.MethodGet, "/destinations", nil, &destinations); err != nil {
		return nil, err
	}
	return destinations, nil
}

// AdjustQuantity posts one stock change. The updated item is returned when
// the backend includes it in the reply; a 2xx without a readable body is
// still a success because the change has been applied.
func (c *Client) AdjustQuantity(ctx context.Context, itemID int64, req domain.AdjustmentRequest) (*domain.Item, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "adjust", http.MethodPost, fmt.Sprintf("/items/%d/adjust", itemID), req, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var item domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		c.logger.Warn("adjust reply is not an item", "item_id", itemID, "error", err)
		return nil, nil
	}
	return &item, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, op, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &TransientError{Op: op, Err: ErrCircuitOpen}
	}
	c.metrics.ObserveBackend(op, outcome(err), time.Since(start))
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call", "op", op, "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg, ok := errorMessage(resp); ok {
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
		return &TransientError{Op: op, Err: &StatusError{StatusCode: resp.StatusCode}}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransientError{Op: op, Err: err}
		}
		*raw = bytes.TrimSpace(data)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error
// reply, preferring message. It reports false when the body carries neither.
func errorMessage(resp *http.Response) (string, bool) {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, &body); err != nil {
		return "", false
	}
	if body.Message != "" {
		return body.Message, true
	}
	return body.Error, body.Error != ""
}

// statusCode is the HTTP status carried by err, or 0 when the backend never
// answered.
func statusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func notFound(err error, what string) error {
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func outcome(err error) string {
	switch code := statusCode(err); {
	case err == nil:
		return "ok"
	case code != 0:
		return fmt.Sprintf("%dxx", code/100)
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}
