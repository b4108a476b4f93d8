package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/catalog"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// MaterialRepository provides data access for materials and their extension rows.
type MaterialRepository interface {
	// FindByKey returns the lowest-id material with exactly this natural key.
	FindByKey(ctx context.Context, key models.MaterialKey) (*models.Material, error)
	Create(ctx context.Context, m *models.Material) error
	GetByID(ctx context.Context, id int64) (*models.Material, error)
	ListAll(ctx context.Context) ([]*models.Material, error)
	// SetAttribute writes one whitelisted material column (manufacturer, ...).
	SetAttribute(ctx context.Context, id int64, column string, value any) error
	UpsertProperty(ctx context.Context, p *models.MaterialProperty) error
	// UpsertDetail writes one column of a detail table row keyed by material_id.
	UpsertDetail(ctx context.Context, d *models.MaterialDetail) error

	// Canonicalization support.
	LockForCanonicalization(ctx context.Context, lockTimeout time.Duration) error
	UpdateIdentity(ctx context.Context, id int64, classCode, subtypeCode, specificName string) error
	Delete(ctx context.Context, id int64) error
}

type materialRepository struct{}

// NewMaterialRepository creates a new MaterialRepository.
func NewMaterialRepository() MaterialRepository {
	return &materialRepository{}
}

var _ MaterialRepository = (*materialRepository)(nil)

const materialColumns = `material_id, class_code, subtype_code, specific_name, manufacturer,
		       country_of_origin, density_kg_m3, created_at`

func scanMaterial(row pgx.Row) (*models.Material, error) {
	var m models.Material
	err := row.Scan(
		&m.ID,
		&m.ClassCode,
		&m.SubtypeCode,
		&m.SpecificName,
		&m.Manufacturer,
		&m.CountryOfOrigin,
		&m.DensityKgM3,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *materialRepository) FindByKey(ctx context.Context, key models.MaterialKey) (*models.Material, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + materialColumns + `
		FROM material
		WHERE class_code = $1 AND subtype_code = $2 AND specific_name = $3
		ORDER BY material_id
		LIMIT 1`

	m, err := scanMaterial(q.QueryRow(ctx, query, key.ClassCode, key.SubtypeCode, key.SpecificName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find material %s: %w", key, err)
	}
	return m, nil
}

func (r *materialRepository) Create(ctx context.Context, m *models.Material) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO material (class_code, subtype_code, specific_name, manufacturer, country_of_origin, density_kg_m3)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING material_id, created_at`

	err = q.QueryRow(ctx, query,
		m.ClassCode,
		m.SubtypeCode,
		m.SpecificName,
		m.Manufacturer,
		m.CountryOfOrigin,
		m.DensityKgM3,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return wrapPgError("failed to create material", err)
	}
	return nil
}

func (r *materialRepository) GetByID(ctx context.Context, id int64) (*models.Material, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	m, err := scanMaterial(q.QueryRow(ctx, `SELECT `+materialColumns+` FROM material WHERE material_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get material %d: %w", id, err)
	}
	return m, nil
}

func (r *materialRepository) ListAll(ctx context.Context) ([]*models.Material, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+materialColumns+` FROM material ORDER BY material_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var materials []*models.Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating materials: %w", err)
	}
	return materials, nil
}

func (r *materialRepository) SetAttribute(ctx context.Context, id int64, column string, value any) error {
	if _, ok := models.TargetColumns[models.TableMaterial][column]; !ok {
		return fmt.Errorf("material column %q is not writable", column)
	}
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE material SET %s = $2 WHERE material_id = $1`, catalog.QuoteColumn(column))
	result, err := q.Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to set material %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *materialRepository) UpsertProperty(ctx context.Context, p *models.MaterialProperty) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO material_property (material_id, property_id, value, unit_id, test_method_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (material_id, property_id) DO UPDATE
		SET value = EXCLUDED.value,
		    unit_id = COALESCE(EXCLUDED.unit_id, material_property.unit_id),
		    test_method_id = COALESCE(EXCLUDED.test_method_id, material_property.test_method_id)
		RETURNING material_property_id`

	err = q.QueryRow(ctx, query, p.MaterialID, p.PropertyID, p.Value, p.UnitID, p.TestMethodID).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert material property: %w", err)
	}
	return nil
}

func (r *materialRepository) UpsertDetail(ctx context.Context, d *models.MaterialDetail) error {
	if !models.IsDetailTable(d.Table) {
		return fmt.Errorf("%q is not a detail table", d.Table)
	}
	kind, ok := models.TargetColumns[d.Table][d.Column]
	if !ok {
		return fmt.Errorf("%s column %q is not writable", d.Table, d.Column)
	}
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	var value any = d.Number
	if kind == models.KindText {
		value = d.Text
	}

	col := catalog.QuoteColumn(d.Column)
	query := fmt.Sprintf(`
		INSERT INTO %s (material_id, %s) VALUES ($1, $2)
		ON CONFLICT (material_id) DO UPDATE SET %s = EXCLUDED.%s`,
		catalog.QualifiedTableName("", string(d.Table)), col, col, col)

	if _, err := q.Exec(ctx, query, d.MaterialID, value); err != nil {
		return fmt.Errorf("failed to upsert %s.%s: %w", d.Table, d.Column, err)
	}
	return nil
}

func (r *materialRepository) LockForCanonicalization(ctx context.Context, lockTimeout time.Duration) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return fmt.Errorf("failed to defer constraints: %w", err)
	}
	if lockTimeout > 0 {
		// set_config with is_local=true is SET LOCAL that accepts a bind parameter.
		if _, err := q.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	// EXCLUSIVE blocks every writer, readers still proceed.
	if _, err := q.Exec(ctx, `LOCK TABLE material IN EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("failed to lock material table: %w", err)
	}
	return nil
}

func (r *materialRepository) UpdateIdentity(ctx context.Context, id int64, classCode, subtypeCode, specificName string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `
		UPDATE material SET class_code = $2, subtype_code = $3, specific_name = $4
		WHERE material_id = $1`, id, classCode, subtypeCode, specificName)
	if err != nil {
		return fmt.Errorf("failed to update material %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *materialRepository) Delete(ctx context.Context, id int64) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM material WHERE material_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete material %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
