package resolve

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vbonduro/stockscan/internal/backend"
	"github.com/vbonduro/stockscan/internal/domain"
)

type Outcome int

const (
	Found Outcome = iota
	NotFound
	LookupFailed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

var errEmptyCode = errors.New("empty barcode")

// itemLookup is the subset of backend.Client the resolver requires.
type itemLookup interface {
	ItemByBarcode(ctx context.Context, code string) (*domain.Item, error)
}

type Result struct {
	Code    string
	Outcome Outcome
	Item    *domain.Item
	Err     error
}

// Resolver maps a committed barcode to an item with a single backend lookup.
// It never retries and never caches: each call yields a fresh snapshot.
type Resolver struct {
	items  itemLookup
	logger *slog.Logger
}

func New(items itemLookup, logger *slog.Logger) *Resolver {
	return &Resolver{items: items, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, code string) Result {
	if code == "" {
		return Result{Code: code, Outcome: LookupFailed, Err: errEmptyCode}
	}

	item, err := r.items.ItemByBarcode(ctx, code)
	switch {
	case err == nil && item != nil:
		r.logger.Info("barcode resolved", "code", code, "item_id", item.ID)
		return Result{Code: code, Outcome: Found, Item: item}
	case errors.Is(err, backend.ErrNotFound):
		r.logger.Info("barcode not found", "code", code)
		return Result{Code: code, Outcome: NotFound, Err: err}
	default:
		if err == nil {
			err = errors.New("lookup returned no item")
		}
		r.logger.Error("barcode lookup failed", "code", code, "transient", backend.IsTransient(err), "error", err)
		return Result{Code: code, Outcome: LookupFailed, Err: err}
	}
}
