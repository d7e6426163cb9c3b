package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/stockscan/internal/domain"
)

// ReferenceStore holds the small lookup tables an adjustment points at:
// units, providers and destinations. All three share the same (id, name)
// shape.
type ReferenceStore struct {
	db *sql.DB
}

func NewReferenceStore(db *sql.DB) *ReferenceStore {
	return &ReferenceStore{db: db}
}

type named struct {
	id   int64
	name string
}

func (s *ReferenceStore) CreateUnit(ctx context.Context, name string) (int64, error) {
	return s.create(ctx, "units", name)
}

func (s *ReferenceStore) CreateProvider(ctx context.Context, name string) (int64, error) {
	return s.create(ctx, "providers", name)
}

func (s *ReferenceStore) CreateDestination(ctx context.Context, name string) (int64, error) {
	return s.create(ctx, "destinations", name)
}

func (s *ReferenceStore) ListProviders(ctx context.Context) ([]domain.Provider, error) {
	rows, err := s.list(ctx, "providers")
	if err != nil {
		return nil, err
	}
	providers := make([]domain.Provider, 0, len(rows))
	for _, r := range rows {
		providers = append(providers, domain.Provider{ID: r.id, Name: r.name})
	}
	return providers, nil
}

func (s *ReferenceStore) ListDestinations(ctx context.Context) ([]domain.Destination, error) {
	rows, err := s.list(ctx, "destinations")
	if err != nil {
		return nil, err
	}
	destinations := make([]domain.Destination, 0, len(rows))
	for _, r := range rows {
		destinations = append(destinations, domain.Destination{ID: r.id, Name: r.name})
	}
	return destinations, nil
}

// create inserts name into table, or returns the existing row's id when the
// name is already there. table is always one of the package's own constants.
func (s *ReferenceStore) create(ctx context.Context, table, name string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s row: %w", table, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get %s id: %w", table, err)
	}
	return id, nil
}

func (s *ReferenceStore) list(ctx context.Context, table string) ([]named, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM `+table+` ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var out []named
	for rows.Next() {
		var r named
		if err := rows.Scan(&r.id, &r.name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return out, nil
}
