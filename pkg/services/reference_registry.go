package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
)

// ReferenceRegistry resolves the lookup rows an import writes against (units,
// properties, test methods, specimens, curing regimes), creating them on first
// use. Ids are memoized for the lifetime of one run.
type ReferenceRegistry struct {
	repo   repositories.ReferenceRepository
	cache  *runCache
	logger *zap.Logger
}

// NewReferenceRegistry creates a registry for one import run.
func NewReferenceRegistry(repo repositories.ReferenceRepository, logger *zap.Logger) *ReferenceRegistry {
	return &ReferenceRegistry{
		repo:   repo,
		cache:  newRunCache(),
		logger: logger.Named("reference-registry"),
	}
}

// Seed ensures the material classes and base units exist.
func (r *ReferenceRegistry) Seed(ctx context.Context) error {
	for _, class := range models.MaterialClasses {
		if err := r.repo.EnsureMaterialClass(ctx, class); err != nil {
			return err
		}
	}
	for _, u := range models.BaseUnits {
		unit, err := r.repo.GetOrCreateUnit(ctx, u.Symbol, u.Name)
		if err != nil {
			return err
		}
		r.cache.add(unitCacheKey(u.Symbol), unit.ID)
	}
	r.cache.commitRow()

	r.logger.Debug("Seeded reference data",
		zap.Int("classes", len(models.MaterialClasses)),
		zap.Int("units", len(models.BaseUnits)))
	return nil
}

// UnitID returns the id of the unit with symbol, or nil for a blank symbol.
func (r *ReferenceRegistry) UnitID(ctx context.Context, symbol string) (*int64, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, nil
	}
	key := unitCacheKey(symbol)
	if id, ok := r.cache.get(key); ok {
		return ptr(id.(int64)), nil
	}
	unit, err := r.repo.GetOrCreateUnit(ctx, symbol, symbol)
	if err != nil {
		return nil, err
	}
	r.cache.add(key, unit.ID)
	return &unit.ID, nil
}

// PropertyID returns the id of the named property. unitID is only used when
// the property does not exist yet.
func (r *ReferenceRegistry) PropertyID(ctx context.Context, name string, unitID *int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("property name is required")
	}
	key := "property|" + name
	if id, ok := r.cache.get(key); ok {
		return id.(int64), nil
	}
	p, err := r.repo.GetOrCreateProperty(ctx, name, unitID)
	if err != nil {
		return 0, err
	}
	r.cache.add(key, p.ID)
	return p.ID, nil
}

// TestMethodID returns the id of the named test method, or nil for a blank name.
func (r *ReferenceRegistry) TestMethodID(ctx context.Context, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	key := "test_method|" + name
	if id, ok := r.cache.get(key); ok {
		return ptr(id.(int64)), nil
	}
	m, err := r.repo.GetOrCreateTestMethod(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache.add(key, m.ID)
	return &m.ID, nil
}

// LookupID returns the id of name in a single-column lookup table
// (models.LookupSpecimen, models.LookupCuringRegime), or nil for a blank name.
func (r *ReferenceRegistry) LookupID(ctx context.Context, table, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	key := table + "|" + name
	if id, ok := r.cache.get(key); ok {
		return ptr(id.(int64)), nil
	}
	id, err := r.repo.GetOrCreateLookup(ctx, table, name)
	if err != nil {
		return nil, err
	}
	r.cache.add(key, id)
	return &id, nil
}

// CommitRow keeps the ids memoized while importing the current row.
func (r *ReferenceRegistry) CommitRow() {
	r.cache.commitRow()
}

// DiscardRow forgets ids created inside a row that was rolled back.
func (r *ReferenceRegistry) DiscardRow() {
	r.cache.discardRow()
}

func unitCacheKey(symbol string) string {
	return "unit|" + symbol
}

func ptr[T any](v T) *T {
	return &v
}
