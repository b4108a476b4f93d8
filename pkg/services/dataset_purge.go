package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
)

// DatasetPurgeService removes the imported mixes of a dataset so it can be
// imported again. Materials are shared between datasets and are kept.
type DatasetPurgeService interface {
	PurgeDataset(ctx context.Context, name string) (*repositories.PurgeCounts, error)
}

type datasetPurgeService struct {
	tx       database.TxRunner
	gate     readonly.Gate
	datasets repositories.DatasetRepository
	logger   *zap.Logger
}

// NewDatasetPurgeService creates a new DatasetPurgeService.
func NewDatasetPurgeService(
	tx database.TxRunner,
	gate readonly.Gate,
	datasets repositories.DatasetRepository,
	logger *zap.Logger,
) DatasetPurgeService {
	return &datasetPurgeService{
		tx:       tx,
		gate:     gate,
		datasets: datasets,
		logger:   logger.Named("dataset-purge"),
	}
}

var _ DatasetPurgeService = (*datasetPurgeService)(nil)

func (s *datasetPurgeService) PurgeDataset(ctx context.Context, name string) (*repositories.PurgeCounts, error) {
	if err := readonly.Check(ctx, s.gate); err != nil {
		return nil, err
	}

	var counts *repositories.PurgeCounts
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ds, err := s.datasets.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		counts, err = s.datasets.PurgeMixes(ctx, ds.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Purged dataset",
		zap.String("dataset", name),
		zap.Int64("mixes", counts.Mixes),
		zap.Int64("components", counts.Components),
		zap.Int64("performance_results", counts.PerformanceResults))
	return counts, nil
}
