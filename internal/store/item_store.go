package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vbonduro/stockscan/internal/domain"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrNegativeQuantity = errors.New("resulting quantity cannot be negative")
)

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// NewItem is what Create needs. Status defaults to active.
type NewItem struct {
	Name     string
	Barcode  *string
	UnitID   int64
	Quantity float64
	Status   domain.ItemStatus
}

const selectItem = `
	SELECT i.id, i.name, i.barcode, i.unit_id, u.name, i.current_quantity, i.status
	FROM items i JOIN units u ON u.id = i.unit_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	item := &domain.Item{}
	err := row.Scan(&item.ID, &item.Name, &item.Barcode, &item.UnitID, &item.UnitName, &item.CurrentQuantity, &item.Status)
	return item, err
}

func (s *ItemStore) Create(ctx context.Context, in NewItem) (*domain.Item, error) {
	status := in.Status
	if status == "" {
		status = domain.ItemActive
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO items (name, barcode, unit_id, current_quantity, status) VALUES (?, ?, ?, ?, ?)
	`, in.Name, in.Barcode, in.UnitID, in.Quantity, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *ItemStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, selectItem+` WHERE i.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

func (s *ItemStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// GetByBarcode only matches active items.
func (s *ItemStore) GetByBarcode(ctx context.Context, barcode string) (*domain.Item, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, nil
	}
	item, err := scanItem(s.db.QueryRowContext(ctx, selectItem+` WHERE i.barcode = ? AND i.status = 'active'`, barcode))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by barcode: %w", err)
	}

	return item, nil
}

// Adjust applies a stock change and writes its movement log in one
// transaction, then returns the updated item.
func (s *ItemStore) Adjust(ctx context.Context, id int64, req domain.AdjustmentRequest) (*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin adjustment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		name    string
		current float64
	)
	err = tx.QueryRowContext(ctx, `SELECT name, current_quantity FROM items WHERE id = ?`, id).Scan(&name, &current)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	next := current + req.ChangeAmount
	if req.AdjustmentType == domain.Removal {
		next = current - req.ChangeAmount
	}
	if next < 0 {
		return nil, ErrNegativeQuantity
	}

	if _, err := tx.ExecContext(ctx, `UPDATE items SET current_quantity = ? WHERE id = ?`, next, id); err != nil {
		return nil, fmt.Errorf("failed to update quantity: %w", err)
	}

	entry := domain.MovementLog{
		ItemID:            id,
		ItemName:          name,
		ActionType:        actionType(req.AdjustmentType),
		QuantityChanged:   req.ChangeAmount,
		ResultingQuantity: next,
		ProviderID:        req.ProviderID,
		CostPerItem:       req.Cost,
		DestinationID:     req.DestinationID,
		PersonName:        req.PersonName,
	}
	if err := insertMovement(ctx, tx, entry); err != nil {
		return nil, err
	}

	item, err := scanItem(tx.QueryRowContext(ctx, selectItem+` WHERE i.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return item, nil
}

// actionType is the movement log label: "Addition" or "Removal".
func actionType(t domain.AdjustmentType) string {
	s := string(t)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
