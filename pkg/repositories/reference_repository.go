package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// ReferenceRepository provides get-or-create access to the lookup tables every
// import depends on. All methods are idempotent on the natural key.
type ReferenceRepository interface {
	EnsureMaterialClass(ctx context.Context, class models.MaterialClass) error
	GetOrCreateUnit(ctx context.Context, symbol, name string) (*models.Unit, error)
	GetOrCreateProperty(ctx context.Context, name string, unitID *int64) (*models.Property, error)
	GetOrCreateTestMethod(ctx context.Context, name string) (*models.TestMethod, error)
	// GetOrCreateLookup handles the single-column lookups (specimen, curing_regime).
	GetOrCreateLookup(ctx context.Context, table, name string) (int64, error)
}

type referenceRepository struct{}

// NewReferenceRepository creates a new ReferenceRepository.
func NewReferenceRepository() ReferenceRepository {
	return &referenceRepository{}
}

var _ ReferenceRepository = (*referenceRepository)(nil)

func (r *referenceRepository) EnsureMaterialClass(ctx context.Context, class models.MaterialClass) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO material_class (class_code, name) VALUES ($1, $2)
		ON CONFLICT (class_code) DO NOTHING`, class.ClassCode, class.Name)
	if err != nil {
		return fmt.Errorf("failed to ensure material class %s: %w", class.ClassCode, err)
	}
	return nil
}

// The insert-or-select CTEs below return the existing row when the insert is
// skipped by ON CONFLICT.

func (r *referenceRepository) GetOrCreateUnit(ctx context.Context, symbol, name string) (*models.Unit, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		WITH ins AS (
			INSERT INTO unit (symbol, name) VALUES ($1, $2)
			ON CONFLICT (symbol) DO NOTHING
			RETURNING unit_id, symbol, name
		)
		SELECT unit_id, symbol, name FROM ins
		UNION ALL
		SELECT unit_id, symbol, name FROM unit WHERE symbol = $1
		LIMIT 1`

	var u models.Unit
	if err := q.QueryRow(ctx, query, symbol, name).Scan(&u.ID, &u.Symbol, &u.Name); err != nil {
		return nil, fmt.Errorf("failed to get or create unit %q: %w", symbol, err)
	}
	return &u, nil
}

func (r *referenceRepository) GetOrCreateProperty(ctx context.Context, name string, unitID *int64) (*models.Property, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		WITH ins AS (
			INSERT INTO property_dictionary (name, display_name, unit_id) VALUES ($1, $1, $2)
			ON CONFLICT (name) DO NOTHING
			RETURNING property_id, name, display_name, unit_id
		)
		SELECT property_id, name, display_name, unit_id FROM ins
		UNION ALL
		SELECT property_id, name, display_name, unit_id FROM property_dictionary WHERE name = $1
		LIMIT 1`

	var p models.Property
	if err := q.QueryRow(ctx, query, name, unitID).Scan(&p.ID, &p.Name, &p.DisplayName, &p.UnitID); err != nil {
		return nil, fmt.Errorf("failed to get or create property %q: %w", name, err)
	}
	return &p, nil
}

func (r *referenceRepository) GetOrCreateTestMethod(ctx context.Context, name string) (*models.TestMethod, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		WITH ins AS (
			INSERT INTO test_method (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING
			RETURNING test_method_id, name, standard
		)
		SELECT test_method_id, name, standard FROM ins
		UNION ALL
		SELECT test_method_id, name, standard FROM test_method WHERE name = $1
		LIMIT 1`

	var m models.TestMethod
	if err := q.QueryRow(ctx, query, name).Scan(&m.ID, &m.Name, &m.Standard); err != nil {
		return nil, fmt.Errorf("failed to get or create test method %q: %w", name, err)
	}
	return &m, nil
}

func (r *referenceRepository) GetOrCreateLookup(ctx context.Context, table, name string) (int64, error) {
	var idColumn string
	switch table {
	case models.LookupSpecimen:
		idColumn = "specimen_id"
	case models.LookupCuringRegime:
		idColumn = "curing_regime_id"
	default:
		return 0, fmt.Errorf("unknown lookup table %q", table)
	}

	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	// table and idColumn come from the switch above, never from input.
	query := fmt.Sprintf(`
		WITH ins AS (
			INSERT INTO %[1]s (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING
			RETURNING %[2]s
		)
		SELECT %[2]s FROM ins
		UNION ALL
		SELECT %[2]s FROM %[1]s WHERE name = $1
		LIMIT 1`, table, idColumn)

	var id int64
	if err := q.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get or create %s %q: %w", table, name, err)
	}
	return id, nil
}
