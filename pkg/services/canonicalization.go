package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/catalog"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/retry"
)

// materialTable is the table canonicalization deduplicates.
const materialTable = "material"

// errDryRunRollback makes RunInTx roll back a completed dry run.
var errDryRunRollback = errors.New("dry run: rolling back")

// CanonicalizeOptions selects how a run behaves.
type CanonicalizeOptions struct {
	// DryRun computes the full report, then rolls everything back.
	DryRun bool
}

// CanonicalizationConfig holds the engine settings.
type CanonicalizationConfig struct {
	Schema      string
	LockTimeout time.Duration
	// MaxAttempts bounds retries after lock timeouts and deadlocks.
	MaxAttempts int
}

// CanonicalizationService deduplicates materials.
type CanonicalizationService interface {
	// Canonicalize merges every group of materials sharing a normalized
	// identity into its lowest-id member, repointing all referencing rows.
	// The run is a single transaction and is idempotent. Audit files are
	// written after commit; failing to write them sets report.AuditError
	// instead of returning an error.
	Canonicalize(ctx context.Context, opts CanonicalizeOptions) (*models.CanonicalizationReport, error)
}

type canonicalizationService struct {
	tx         database.TxRunner
	gate       readonly.Gate
	materials  repositories.MaterialRepository
	merges     repositories.MaterialMergeRepository
	inspector  catalog.Inspector
	normalizer *MaterialNormalizer
	exporter   *audit.CSVExporter
	cfg        CanonicalizationConfig
	retryCfg   *retry.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewCanonicalizationService creates a new CanonicalizationService.
// exporter may be nil to skip the audit CSVs.
func NewCanonicalizationService(
	tx database.TxRunner,
	gate readonly.Gate,
	materials repositories.MaterialRepository,
	merges repositories.MaterialMergeRepository,
	inspector catalog.Inspector,
	normalizer *MaterialNormalizer,
	exporter *audit.CSVExporter,
	cfg CanonicalizationConfig,
	logger *zap.Logger,
) CanonicalizationService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	named := logger.Named("canonicalize")
	return &canonicalizationService{
		tx:         tx,
		gate:       gate,
		materials:  materials,
		merges:     merges,
		inspector:  inspector,
		normalizer: normalizer,
		exporter:   exporter,
		cfg:        cfg,
		retryCfg: &retry.Config{
			MaxRetries:   cfg.MaxAttempts - 1,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
			OnRetry: func(attempt int, err error) {
				named.Warn("Canonicalization attempt failed, retrying",
					zap.Int("attempt", attempt), zap.Error(err))
			},
		},
		logger: named,
		now:    time.Now,
	}
}

var _ CanonicalizationService = (*canonicalizationService)(nil)

// snapshot is what a run captured inside its transaction.
type snapshot struct {
	before []*models.Material
	after  []*models.Material
}

func (s *canonicalizationService) Canonicalize(ctx context.Context, opts CanonicalizeOptions) (*models.CanonicalizationReport, error) {
	if !opts.DryRun {
		if err := readonly.Check(ctx, s.gate); err != nil {
			return nil, err
		}
	}

	runID := uuid.New()
	started := s.now()
	logger := s.logger.With(zap.String("run_id", runID.String()), zap.Bool("dry_run", opts.DryRun))

	var (
		report   *models.CanonicalizationReport
		snap     *snapshot
		attempts int
	)
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		attempts++
		report = &models.CanonicalizationReport{RunID: runID, DryRun: opts.DryRun, StartedAt: started}
		snap = &snapshot{}
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.run(ctx, report, snap, logger); err != nil {
				return err
			}
			if opts.DryRun {
				return errDryRunRollback
			}
			return nil
		})
		if errors.Is(err, errDryRunRollback) {
			return nil
		}
		return err
	})
	if err != nil {
		logger.Error("Canonicalization failed, all changes rolled back",
			zap.Int("attempts", attempts), zap.Error(err))
		return nil, err
	}
	report.Attempts = attempts

	if err := s.writeAudit(report, snap); err != nil {
		// The transaction already committed; the report still describes it.
		logger.Error("Failed to write canonicalization audit files", zap.Error(err))
		report.AuditError = err.Error()
	}

	report.Duration = s.now().Sub(started)
	logger.Info("Canonicalization complete",
		zap.Int("materials_before", report.MaterialsBefore),
		zap.Int("materials_after", report.MaterialsAfter),
		zap.Int("groups_merged", report.GroupsMerged),
		zap.Int("materials_merged", report.MaterialsMerged),
		zap.Int("reclassified", report.Reclassified),
		zap.Int("attempts", attempts))
	return report, nil
}

func (s *canonicalizationService) run(ctx context.Context, report *models.CanonicalizationReport, snap *snapshot, logger *zap.Logger) error {
	// Preflight: no mutation happens before these checks pass.
	fks, err := s.inspector.ReferencingForeignKeys(ctx, s.cfg.Schema, materialTable)
	if err != nil {
		return fmt.Errorf("failed to discover foreign keys: %w", err)
	}
	if composite := catalog.CompositeKeys(fks); len(composite) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrCompositeForeignKey, composite[0])
	}

	uniqueKeys := make(map[string][]catalog.UniqueKey)
	for _, fk := range fks {
		key := fk.QualifiedSource()
		if _, ok := uniqueKeys[key]; ok {
			continue
		}
		keys, err := s.inspector.UniqueKeys(ctx, fk.SourceSchema, fk.SourceTable)
		if err != nil {
			return fmt.Errorf("failed to read unique keys of %s: %w", key, err)
		}
		uniqueKeys[key] = keys
	}

	if err := s.materials.LockForCanonicalization(ctx, s.cfg.LockTimeout); err != nil {
		return err
	}

	before, err := s.materials.ListAll(ctx)
	if err != nil {
		return err
	}
	snap.before = cloneMaterials(before)
	report.MaterialsBefore = len(before)

	logger.Info("Canonicalizing materials",
		zap.Int("materials", len(before)),
		zap.Int("referencing_foreign_keys", len(fks)))

	// Reclassification runs first so moved materials group under their new class.
	for _, m := range before {
		class, changed := s.normalizer.Reclassify(m.ClassCode, m.SubtypeCode)
		if !changed {
			continue
		}
		if err := s.materials.UpdateIdentity(ctx, m.ID, class, m.SubtypeCode, m.SpecificName); err != nil {
			return err
		}
		logger.Debug("Reclassified material",
			zap.Int64("material_id", m.ID), zap.String("from", m.ClassCode), zap.String("to", class))
		m.ClassCode = class
		report.Reclassified++
	}

	groups := s.group(before)
	report.Groups = len(groups)

	for _, group := range groups {
		if err := s.mergeGroup(ctx, report, group, fks, uniqueKeys, logger); err != nil {
			return err
		}
	}

	for _, fk := range fks {
		n, err := s.merges.CountDangling(ctx, fk)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%s has %d rows referencing deleted materials", fk, n)
		}
	}

	after, err := s.materials.ListAll(ctx)
	if err != nil {
		return err
	}
	snap.after = after
	report.MaterialsAfter = len(after)
	return nil
}

// group buckets materials by normalized identity. Materials arrive ordered by
// id, so the first member of every group is its survivor.
func (s *canonicalizationService) group(materials []*models.Material) [][]*models.Material {
	index := make(map[string]int)
	var groups [][]*models.Material
	for _, m := range materials {
		key := s.normalizer.GroupKey(m)
		i, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, []*models.Material{m})
			continue
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func (s *canonicalizationService) mergeGroup(
	ctx context.Context,
	report *models.CanonicalizationReport,
	group []*models.Material,
	fks []catalog.ForeignKey,
	uniqueKeys map[string][]catalog.UniqueKey,
	logger *zap.Logger,
) error {
	survivor := group[0]
	canonical := s.normalizer.Canonical(survivor)

	// Written unconditionally; unchanged rows simply keep their values.
	if err := s.materials.UpdateIdentity(ctx, survivor.ID, canonical.ClassCode, canonical.SubtypeCode, canonical.SpecificName); err != nil {
		return fmt.Errorf("failed to canonicalize material %d: %w", survivor.ID, err)
	}
	if survivor.Key() != canonical {
		report.CanonicalRowsUpdated++
	}

	if len(group) == 1 {
		return nil
	}

	for _, old := range group[1:] {
		for _, fk := range fks {
			updated, dropped, err := s.merges.RewriteReferences(ctx, fk, uniqueKeys[fk.QualifiedSource()], old.ID, survivor.ID)
			if err != nil {
				return fmt.Errorf("failed to merge material %d into %d: %w", old.ID, survivor.ID, err)
			}
			if updated > 0 || dropped > 0 {
				report.AddRewrite(fk.SourceTable, fk.SourceColumn(), updated, dropped)
			}
		}

		entry := &models.MaterialMergeLog{
			RunID:         report.RunID,
			OldMaterialID: old.ID,
			NewMaterialID: survivor.ID,
		}
		if err := s.merges.AppendLog(ctx, entry); err != nil {
			return err
		}
		if err := s.materials.Delete(ctx, old.ID); err != nil {
			return fmt.Errorf("failed to delete merged material %d: %w", old.ID, err)
		}

		report.Merges = append(report.Merges, *entry)
		report.MaterialsMerged++
		logger.Debug("Merged material",
			zap.Int64("old_material_id", old.ID),
			zap.Int64("new_material_id", survivor.ID),
			zap.String("canonical", canonical.String()))
	}
	report.GroupsMerged++
	return nil
}

// writeAudit writes the CSV artifacts. A dry run only writes the merge plan.
func (s *canonicalizationService) writeAudit(report *models.CanonicalizationReport, snap *snapshot) error {
	if s.exporter == nil {
		return nil
	}

	if report.DryRun {
		path, err := s.exporter.WriteMergeLog(report.RunID, audit.ArtifactMergePlan, report.Merges)
		if err != nil {
			return err
		}
		report.AuditFiles = append(report.AuditFiles, path)
		return nil
	}

	path, err := s.exporter.WriteMaterials(report.RunID, audit.ArtifactMaterialsBefore, snap.before)
	if err != nil {
		return err
	}
	report.AuditFiles = append(report.AuditFiles, path)

	path, err = s.exporter.WriteMaterials(report.RunID, audit.ArtifactMaterialsAfter, snap.after)
	if err != nil {
		return err
	}
	report.AuditFiles = append(report.AuditFiles, path)

	path, err = s.exporter.WriteMergeLog(report.RunID, audit.ArtifactMergeLog, report.Merges)
	if err != nil {
		return err
	}
	report.AuditFiles = append(report.AuditFiles, path)
	return nil
}

func cloneMaterials(in []*models.Material) []*models.Material {
	out := make([]*models.Material, len(in))
	for i, m := range in {
		c := *m
		out[i] = &c
	}
	return out
}
