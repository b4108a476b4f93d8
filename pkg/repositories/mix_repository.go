package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// MixRepository provides data access for concrete mixes, their components and
// their performance results.
type MixRepository interface {
	Create(ctx context.Context, mix *models.ConcreteMix) error
	GetByCode(ctx context.Context, mixCode string) (*models.ConcreteMix, error)
	UpdateRatios(ctx context.Context, mixID int64, wc, wb decimal.NullDecimal) error
	CreateComponent(ctx context.Context, c *models.MixComponent) error
	ListComponents(ctx context.Context, mixID int64) ([]*models.MixComponent, error)
	CreateResult(ctx context.Context, res *models.PerformanceResult) error
	ListResults(ctx context.Context, mixID int64) ([]*models.PerformanceResult, error)
}

type mixRepository struct{}

// NewMixRepository creates a new MixRepository.
func NewMixRepository() MixRepository {
	return &mixRepository{}
}

var _ MixRepository = (*mixRepository)(nil)

func (r *mixRepository) Create(ctx context.Context, mix *models.ConcreteMix) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO concrete_mix (dataset_id, mix_code, source_mix_id, w_c_ratio, w_b_ratio, target_strength_mpa, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING mix_id, created_at`

	err = q.QueryRow(ctx, query,
		mix.DatasetID,
		mix.MixCode,
		mix.SourceMixID,
		mix.WCRatio,
		mix.WBRatio,
		mix.TargetStrengthMPa,
		mix.Notes,
	).Scan(&mix.ID, &mix.CreatedAt)
	if err != nil {
		return wrapPgError(fmt.Sprintf("failed to create mix %s", mix.MixCode), err)
	}
	return nil
}

func (r *mixRepository) GetByCode(ctx context.Context, mixCode string) (*models.ConcreteMix, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT mix_id, dataset_id, mix_code, source_mix_id, w_c_ratio, w_b_ratio,
		       target_strength_mpa, notes, created_at
		FROM concrete_mix
		WHERE mix_code = $1`

	var m models.ConcreteMix
	err = q.QueryRow(ctx, query, mixCode).Scan(
		&m.ID, &m.DatasetID, &m.MixCode, &m.SourceMixID, &m.WCRatio, &m.WBRatio,
		&m.TargetStrengthMPa, &m.Notes, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mix %s: %w", mixCode, err)
	}
	return &m, nil
}

func (r *mixRepository) UpdateRatios(ctx context.Context, mixID int64, wc, wb decimal.NullDecimal) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `UPDATE concrete_mix SET w_c_ratio = $2, w_b_ratio = $3 WHERE mix_id = $1`, mixID, wc, wb)
	if err != nil {
		return fmt.Errorf("failed to update ratios: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *mixRepository) CreateComponent(ctx context.Context, c *models.MixComponent) error {
	if !c.DosageKgM3.IsPositive() {
		return fmt.Errorf("component dosage must be positive, got %s", c.DosageKgM3)
	}
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mix_component (mix_id, material_id, dosage_kg_m3, is_cementitious)
		VALUES ($1, $2, $3, $4)
		RETURNING component_id`

	if err := q.QueryRow(ctx, query, c.MixID, c.MaterialID, c.DosageKgM3, c.IsCementitious).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to create mix component: %w", err)
	}
	return nil
}

func (r *mixRepository) ListComponents(ctx context.Context, mixID int64) ([]*models.MixComponent, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT component_id, mix_id, material_id, dosage_kg_m3, is_cementitious
		FROM mix_component
		WHERE mix_id = $1
		ORDER BY component_id`, mixID)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	var components []*models.MixComponent
	for rows.Next() {
		var c models.MixComponent
		if err := rows.Scan(&c.ID, &c.MixID, &c.MaterialID, &c.DosageKgM3, &c.IsCementitious); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		components = append(components, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}
	return components, nil
}

func (r *mixRepository) CreateResult(ctx context.Context, res *models.PerformanceResult) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO performance_result (
			mix_id, category, property_id, age_days, value, unit_id,
			specimen_id, curing_regime_id, test_method_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING result_id`

	err = q.QueryRow(ctx, query,
		res.MixID,
		string(res.Category),
		res.PropertyID,
		res.AgeDays,
		res.Value,
		res.UnitID,
		res.SpecimenID,
		res.CuringRegimeID,
		res.TestMethodID,
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("failed to create performance result: %w", err)
	}
	return nil
}

func (r *mixRepository) ListResults(ctx context.Context, mixID int64) ([]*models.PerformanceResult, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT result_id, mix_id, category, property_id, age_days, value, unit_id,
		       specimen_id, curing_regime_id, test_method_id
		FROM performance_result
		WHERE mix_id = $1
		ORDER BY result_id`, mixID)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance results: %w", err)
	}
	defer rows.Close()

	var results []*models.PerformanceResult
	for rows.Next() {
		var res models.PerformanceResult
		var category string
		if err := rows.Scan(&res.ID, &res.MixID, &category, &res.PropertyID, &res.AgeDays, &res.Value,
			&res.UnitID, &res.SpecimenID, &res.CuringRegimeID, &res.TestMethodID); err != nil {
			return nil, fmt.Errorf("failed to scan performance result: %w", err)
		}
		res.Category = models.PerformanceCategory(category)
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance results: %w", err)
	}
	return results, nil
}
