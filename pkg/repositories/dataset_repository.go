package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// PurgeCounts reports what PurgeMixes removed.
type PurgeCounts struct {
	Mixes              int64 `json:"mixes"`
	Components         int64 `json:"components"`
	PerformanceResults int64 `json:"performance_results"`
}

// DatasetRepository provides data access for datasets.
type DatasetRepository interface {
	Create(ctx context.Context, ds *models.Dataset) error
	GetByName(ctx context.Context, name string) (*models.Dataset, error)
	UpdateMetadata(ctx context.Context, ds *models.Dataset) error
	MarkImported(ctx context.Context, datasetID int64, at time.Time) error
	CountMixes(ctx context.Context, datasetID int64) (int, error)
	// PurgeMixes deletes the mixes of a dataset with their components and
	// results. Materials are shared across datasets and stay.
	PurgeMixes(ctx context.Context, datasetID int64) (*PurgeCounts, error)
}

type datasetRepository struct{}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository() DatasetRepository {
	return &datasetRepository{}
}

var _ DatasetRepository = (*datasetRepository)(nil)

func (r *datasetRepository) Create(ctx context.Context, ds *models.Dataset) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dataset (name, prefix, description, source_citation, publication_year)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING dataset_id, created_at`

	err = q.QueryRow(ctx, query,
		ds.Name,
		ds.Prefix,
		ds.Description,
		ds.SourceCitation,
		ds.PublicationYear,
	).Scan(&ds.ID, &ds.CreatedAt)
	if err != nil {
		return wrapPgError("failed to create dataset", err)
	}
	return nil
}

func (r *datasetRepository) GetByName(ctx context.Context, name string) (*models.Dataset, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT dataset_id, name, prefix, description, source_citation, publication_year,
		       created_at, last_import_at
		FROM dataset
		WHERE name = $1`

	var ds models.Dataset
	err = q.QueryRow(ctx, query, name).Scan(
		&ds.ID, &ds.Name, &ds.Prefix, &ds.Description, &ds.SourceCitation, &ds.PublicationYear,
		&ds.CreatedAt, &ds.LastImportAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset %q: %w", name, err)
	}
	return &ds, nil
}

func (r *datasetRepository) UpdateMetadata(ctx context.Context, ds *models.Dataset) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `
		UPDATE dataset
		SET description = $2, source_citation = $3, publication_year = $4
		WHERE dataset_id = $1`,
		ds.ID, ds.Description, ds.SourceCitation, ds.PublicationYear)
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasetRepository) MarkImported(ctx context.Context, datasetID int64, at time.Time) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `UPDATE dataset SET last_import_at = $2 WHERE dataset_id = $1`, datasetID, at)
	if err != nil {
		return fmt.Errorf("failed to mark dataset imported: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasetRepository) CountMixes(ctx context.Context, datasetID int64) (int, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM concrete_mix WHERE dataset_id = $1`, datasetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count mixes: %w", err)
	}
	return n, nil
}

func (r *datasetRepository) PurgeMixes(ctx context.Context, datasetID int64) (*PurgeCounts, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	var counts PurgeCounts

	// Children first; the cascades would do it too but would not report counts.
	result, err := q.Exec(ctx, `
		DELETE FROM performance_result
		WHERE mix_id IN (SELECT mix_id FROM concrete_mix WHERE dataset_id = $1)`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete performance results: %w", err)
	}
	counts.PerformanceResults = result.RowsAffected()

	result, err = q.Exec(ctx, `
		DELETE FROM mix_component
		WHERE mix_id IN (SELECT mix_id FROM concrete_mix WHERE dataset_id = $1)`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete mix components: %w", err)
	}
	counts.Components = result.RowsAffected()

	result, err = q.Exec(ctx, `DELETE FROM concrete_mix WHERE dataset_id = $1`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete mixes: %w", err)
	}
	counts.Mixes = result.RowsAffected()

	if _, err := q.Exec(ctx, `UPDATE dataset SET last_import_at = NULL WHERE dataset_id = $1`, datasetID); err != nil {
		return nil, fmt.Errorf("failed to reset dataset import time: %w", err)
	}

	return &counts, nil
}
