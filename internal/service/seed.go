package service

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/store"
)

// Seed is the YAML document the development backend can be started with.
type Seed struct {
	Units        []string   `yaml:"units"`
	Providers    []string   `yaml:"providers"`
	Destinations []string   `yaml:"destinations"`
	Items        []SeedItem `yaml:"items" validate:"dive"`
}

type SeedItem struct {
	Name     string  `yaml:"name" validate:"required"`
	Barcode  string  `yaml:"barcode"`
	Unit     string  `yaml:"unit" validate:"required"`
	Quantity float64 `yaml:"quantity" validate:"gte=0"`
	Status   string  `yaml:"status" validate:"omitempty,oneof=active inactive archived"`
}

func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	return &seed, nil
}

// Seed loads seed into an empty database. A database that already holds
// items is left alone.
func (s *InventoryService) Seed(ctx context.Context, seed *Seed) error {
	if err := s.validate.Struct(seed); err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	n, err := s.items.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("database already has items, skipping seed", "items", n)
		return nil
	}

	for _, name := range seed.Units {
		if _, err := s.refs.CreateUnit(ctx, name); err != nil {
			return err
		}
	}
	for _, name := range seed.Providers {
		if _, err := s.refs.CreateProvider(ctx, name); err != nil {
			return err
		}
	}
	for _, name := range seed.Destinations {
		if _, err := s.refs.CreateDestination(ctx, name); err != nil {
			return err
		}
	}

	for _, it := range seed.Items {
		unitID, err := s.refs.CreateUnit(ctx, it.Unit)
		if err != nil {
			return err
		}
		in := store.NewItem{Name: it.Name, UnitID: unitID, Quantity: it.Quantity, Status: domain.ItemStatus(it.Status)}
		if it.Barcode != "" {
			code := it.Barcode
			in.Barcode = &code
		}
		if _, err := s.items.Create(ctx, in); err != nil {
			return fmt.Errorf("failed to seed item %q: %w", it.Name, err)
		}
	}

	s.logger.Info("database seeded", "items", len(seed.Items), "providers", len(seed.Providers), "destinations", len(seed.Destinations))
	return nil
}
