package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/store"
)

// ErrNotFound is returned when an item does not exist, or for barcode
// lookups, is not active.
var ErrNotFound = errors.New("not found")

// RejectedError is an adjustment the backend refuses. Its message is meant
// for the operator.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// itemRepository is the subset of store.ItemStore that InventoryService requires.
type itemRepository interface {
	Create(ctx context.Context, in store.NewItem) (*domain.Item, error)
	Count(ctx context.Context) (int, error)
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	GetByBarcode(ctx context.Context, barcode string) (*domain.Item, error)
	Adjust(ctx context.Context, id int64, req domain.AdjustmentRequest) (*domain.Item, error)
}

// referenceRepository is the subset of store.ReferenceStore that InventoryService requires.
type referenceRepository interface {
	CreateUnit(ctx context.Context, name string) (int64, error)
	CreateProvider(ctx context.Context, name string) (int64, error)
	CreateDestination(ctx context.Context, name string) (int64, error)
	ListProviders(ctx context.Context) ([]domain.Provider, error)
	ListDestinations(ctx context.Context) ([]domain.Destination, error)
}

type movementRepository interface {
	ListByItemID(ctx context.Context, itemID int64) ([]*domain.MovementLog, error)
}

type InventoryService struct {
	items     itemRepository
	refs      referenceRepository
	movements movementRepository
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewInventoryService(items itemRepository, refs referenceRepository, movements movementRepository, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		items:     items,
		refs:      refs,
		movements: movements,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

func (s *InventoryService) ItemByBarcode(ctx context.Context, code string) (*domain.Item, error) {
	item, err := s.items.GetByBarcode(ctx, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *InventoryService) Item(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *InventoryService) Providers(ctx context.Context) ([]domain.Provider, error) {
	return s.refs.ListProviders(ctx)
}

func (s *InventoryService) Destinations(ctx context.Context) ([]domain.Destination, error) {
	return s.refs.ListDestinations(ctx)
}

func (s *InventoryService) Movements(ctx context.Context, itemID int64) ([]*domain.MovementLog, error) {
	if _, err := s.Item(ctx, itemID); err != nil {
		return nil, err
	}
	return s.movements.ListByItemID(ctx, itemID)
}

type adjustInput struct {
	ChangeAmount   float64  `validate:"gt=0"`
	AdjustmentType string   `validate:"oneof=addition removal"`
	Cost           *float64 `validate:"omitnil,gte=0"`
	ProviderID     *int64   `validate:"omitnil,gt=0"`
	DestinationID  *int64   `validate:"omitnil,gt=0"`
}

var adjustMessages = map[string]string{
	"ChangeAmount":   "Change amount must be greater than 0.",
	"AdjustmentType": "Adjustment type must be addition or removal.",
	"Cost":           "Cost cannot be negative.",
	"ProviderID":     "Unknown provider.",
	"DestinationID":  "Unknown destination.",
}

// Adjust checks req and applies it. Requests the backend refuses come back
// as *RejectedError; unknown items as ErrNotFound.
func (s *InventoryService) Adjust(ctx context.Context, itemID int64, req domain.AdjustmentRequest) (*domain.Item, error) {
	in := adjustInput{
		ChangeAmount:   req.ChangeAmount,
		AdjustmentType: string(req.AdjustmentType),
		Cost:           req.Cost,
		ProviderID:     req.ProviderID,
		DestinationID:  req.DestinationID,
	}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &RejectedError{Message: adjustMessages[verrs[0].Field()]}
		}
		return nil, fmt.Errorf("failed to validate adjustment: %w", err)
	}

	item, err := s.items.Adjust(ctx, itemID, req)
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrNegativeQuantity):
		return nil, &RejectedError{Message: "Resulting quantity cannot be negative."}
	case err != nil:
		return nil, err
	}

	s.logger.Info("stock adjusted", "item_id", itemID, "type", string(req.AdjustmentType),
		"amount", req.ChangeAmount, "quantity", item.CurrentQuantity)
	return item, nil
}
