package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/stockscan/internal/domain"
)

type MovementStore struct {
	db *sql.DB
}

func NewMovementStore(db *sql.DB) *MovementStore {
	return &MovementStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMovement(ctx context.Context, db execer, m domain.MovementLog) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO movement_logs (item_id, item_name, action_type, quantity_changed, resulting_quantity,
			provider_id, cost_per_item, destination_id, person_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ItemID, m.ItemName, m.ActionType, m.QuantityChanged, m.ResultingQuantity,
		m.ProviderID, m.CostPerItem, m.DestinationID, m.PersonName)
	if err != nil {
		return fmt.Errorf("failed to record movement: %w", err)
	}
	return nil
}

// ListByItemID returns an item's movements, newest first.
func (s *MovementStore) ListByItemID(ctx context.Context, itemID int64) ([]*domain.MovementLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, item_name, action_type, quantity_changed, resulting_quantity,
			provider_id, cost_per_item, destination_id, person_name, timestamp
		FROM movement_logs WHERE item_id = ? ORDER BY id DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var logs []*domain.MovementLog
	for rows.Next() {
		m := &domain.MovementLog{}
		if err := rows.Scan(&m.ID, &m.ItemID, &m.ItemName, &m.ActionType, &m.QuantityChanged, &m.ResultingQuantity,
			&m.ProviderID, &m.CostPerItem, &m.DestinationID, &m.PersonName, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		logs = append(logs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}

	return logs, nil
}
