package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/database"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/mapping"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
	sqlscreen "github.com/ekaya-inc/ekaya-mixdb/pkg/sql"
)

// dosagePlaces matches the scale of mix_component.dosage_kg_m3.
const dosagePlaces = 3

// ImportOptions tunes validation during import.
type ImportOptions struct {
	Bounds RatioBounds
	// ScreenTextCells runs libinjection over cells routed to text columns.
	ScreenTextCells bool
}

// ImportService imports research datasets from CSV.
type ImportService interface {
	// ImportDataset imports csvPath into the dataset described by desc using
	// the column mapping at mappingPath. The whole run is one transaction:
	// a returned error means nothing was written. Row-level problems are
	// reported in the ImportReport instead.
	ImportDataset(ctx context.Context, desc *models.DatasetDescriptor, csvPath, mappingPath string) (*models.ImportReport, error)
}

type importService struct {
	tx        database.TxRunner
	gate      readonly.Gate
	datasets  repositories.DatasetRepository
	materials repositories.MaterialRepository
	mixes     repositories.MixRepository
	refs      repositories.ReferenceRepository
	auditor   *audit.ContentAuditor
	opts      ImportOptions
	logger    *zap.Logger
	now       func() time.Time
}

// NewImportService creates a new ImportService.
func NewImportService(
	tx database.TxRunner,
	gate readonly.Gate,
	datasets repositories.DatasetRepository,
	materials repositories.MaterialRepository,
	mixes repositories.MixRepository,
	refs repositories.ReferenceRepository,
	auditor *audit.ContentAuditor,
	opts ImportOptions,
	logger *zap.Logger,
) ImportService {
	return &importService{
		tx:        tx,
		gate:      gate,
		datasets:  datasets,
		materials: materials,
		mixes:     mixes,
		refs:      refs,
		auditor:   auditor,
		opts:      opts,
		logger:    logger.Named("importer"),
		now:       time.Now,
	}
}

var _ ImportService = (*importService)(nil)

// importRun is the state of one ImportDataset call. Nothing in it outlives the call.
type importRun struct {
	desc     *models.DatasetDescriptor
	mapping  *models.ColumnMapping
	dataset  *models.Dataset
	report   *models.ImportReport
	registry *ReferenceRegistry
	resolver *ReferenceResolver
	// materials maps a natural key to the material created or reused for it.
	materials   *runCache
	counted     map[int64]bool
	stages      map[models.RuleStage][]models.MappingRule
	textColumns []string
	logger      *zap.Logger
}

// rowResult collects what one row did. It is merged into the report only
// when the row's savepoint is released.
type rowResult struct {
	row        int
	mixes      int
	components int
	properties int
	details    int
	results    int
	created    []int64
	reused     []int64
	warnings   []models.ImportWarning
	suspicious []*sqlscreen.InjectionCheckResult
}

func (r *rowResult) warn(column, message string) {
	r.warnings = append(r.warnings, models.ImportWarning{Row: r.row, Column: column, Message: message})
}

func (s *importService) ImportDataset(ctx context.Context, desc *models.DatasetDescriptor, csvPath, mappingPath string) (*models.ImportReport, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: descriptor is required", apperrors.ErrInvalidDescriptor)
	}
	if err := mapping.ValidateDescriptor(desc); err != nil {
		return nil, err
	}

	colMap, err := mapping.LoadColumnMapping(mappingPath)
	if err != nil {
		return nil, err
	}

	if err := readonly.Check(ctx, s.gate); err != nil {
		return nil, err
	}

	src, err := mapping.OpenSource(csvPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if desc.MixNumberColumn != "" && !slices.Contains(src.Header, desc.MixNumberColumn) {
		return nil, fmt.Errorf("%w: mix_number_column %q is not in the header of %s",
			apperrors.ErrInvalidDescriptor, desc.MixNumberColumn, csvPath)
	}

	run := s.newRun(desc, colMap)
	s.addLoadWarnings(run, src.Header)

	run.logger.Info("Starting dataset import",
		zap.String("csv", csvPath),
		zap.String("mapping", mappingPath),
		zap.Int("rules", len(colMap.Rules)),
		zap.String("ratio_mode", string(desc.RatioMode)))

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := run.registry.Seed(ctx); err != nil {
			return fmt.Errorf("failed to seed reference data: %w", err)
		}

		ds, err := s.prepareDataset(ctx, desc)
		if err != nil {
			return err
		}
		run.dataset = ds

		for {
			row, err := src.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", csvPath, err)
			}
			if err := s.importRow(ctx, run, row); err != nil {
				return err
			}
		}

		return s.datasets.MarkImported(ctx, ds.ID, s.now())
	})
	if err != nil {
		run.logger.Error("Dataset import failed, nothing was committed", zap.Error(err))
		return nil, err
	}

	report := run.report
	report.Duration = time.Since(report.StartedAt)
	run.logger.Info("Dataset import complete",
		zap.Int("rows_processed", report.RowsProcessed),
		zap.Int("rows_skipped", report.RowsSkipped),
		zap.Int("mixes_created", report.MixesCreated),
		zap.Int("components_created", report.ComponentsCreated),
		zap.Int("materials_created", report.MaterialsCreated),
		zap.Int("materials_reused", report.MaterialsReused),
		zap.Int("materials_cached", run.materials.len()),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *importService) newRun(desc *models.DatasetDescriptor, colMap *models.ColumnMapping) *importRun {
	report := models.NewImportReport(desc.Name)
	run := &importRun{
		desc:      desc,
		mapping:   colMap,
		report:    report,
		registry:  NewReferenceRegistry(s.refs, s.logger),
		resolver:  NewReferenceResolver(),
		materials: newRunCache(),
		counted:   make(map[int64]bool),
		stages:    make(map[models.RuleStage][]models.MappingRule),
		logger: s.logger.With(
			zap.String("dataset", desc.Name),
			zap.String("run_id", report.RunID.String())),
	}
	for _, stage := range []models.RuleStage{
		models.StageMix, models.StageComponent, models.StageMaterial, models.StagePerformance,
	} {
		run.stages[stage] = colMap.RulesByStage(stage)
	}
	if s.opts.ScreenTextCells {
		for _, rule := range colMap.Rules {
			if rule.Kind() == models.KindText && !slices.Contains(run.textColumns, rule.SourceColumn) {
				run.textColumns = append(run.textColumns, rule.SourceColumn)
			}
		}
	}
	return run
}

// addLoadWarnings reports file-level findings as row 0 warnings.
func (s *importService) addLoadWarnings(run *importRun, header []string) {
	for _, w := range run.mapping.Warnings {
		run.report.Warn(0, "", w)
	}
	for _, col := range mapping.MissingColumns(run.mapping, header) {
		run.report.Warn(0, col, "mapped source column is not in the CSV header")
	}
	if run.desc.RatioMode == models.RatioModeComputed {
		for _, rule := range run.stages[models.StageMix] {
			if rule.Column == "w_c_ratio" || rule.Column == "w_b_ratio" {
				run.report.Warn(0, rule.SourceColumn, fmt.Sprintf("%s column ignored in computed ratio mode", rule.Column))
			}
		}
	}
	for _, w := range run.report.Warnings {
		run.logger.Warn("Import warning", zap.String("column", w.Column), zap.String("warning", w.Message))
	}
}

// prepareDataset gets or creates the dataset and refuses to import into one
// that already has mixes.
func (s *importService) prepareDataset(ctx context.Context, desc *models.DatasetDescriptor) (*models.Dataset, error) {
	ds, err := s.datasets.GetByName(ctx, desc.Name)
	if errors.Is(err, apperrors.ErrNotFound) {
		ds = datasetFromDescriptor(desc)
		if err := s.datasets.Create(ctx, ds); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				return nil, fmt.Errorf("%w: prefix %q is already used by another dataset",
					apperrors.ErrInvalidDescriptor, desc.Prefix)
			}
			return nil, err
		}
		return ds, nil
	}
	if err != nil {
		return nil, err
	}

	if ds.Prefix != desc.Prefix {
		return nil, fmt.Errorf("%w: dataset %q has prefix %q, descriptor says %q",
			apperrors.ErrInvalidDescriptor, desc.Name, ds.Prefix, desc.Prefix)
	}

	n, err := s.datasets.CountMixes(ctx, ds.ID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %q has %d mixes, purge it before importing again",
			apperrors.ErrDatasetAlreadyImported, desc.Name, n)
	}

	updated := datasetFromDescriptor(desc)
	updated.ID = ds.ID
	if err := s.datasets.UpdateMetadata(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func datasetFromDescriptor(desc *models.DatasetDescriptor) *models.Dataset {
	ds := &models.Dataset{Name: desc.Name, Prefix: desc.Prefix}
	if desc.Description != "" {
		ds.Description = ptr(desc.Description)
	}
	if desc.SourceCitation != "" {
		ds.SourceCitation = ptr(desc.SourceCitation)
	}
	if desc.PublicationYear > 0 {
		ds.PublicationYear = ptr(desc.PublicationYear)
	}
	return ds
}

// importRow imports one row inside a savepoint. Row-level failures are
// recorded in the report; only run-fatal errors are returned.
func (s *importService) importRow(ctx context.Context, run *importRun, row *mapping.SourceRow) error {
	run.report.RowsProcessed++

	res := &rowResult{row: row.Index}
	err := run.checkRow(row)
	if err == nil {
		err = s.tx.RunInSavepoint(ctx, func(ctx context.Context) error {
			return s.applyRow(ctx, run, row, res)
		})
	}
	switch {
	case err == nil:
		s.commitRow(run, res)
		return nil
	case isRowLevel(err):
		run.materials.discardRow()
		run.registry.DiscardRow()
		run.skip(row.Index, err.Error())
		return nil
	default:
		return fmt.Errorf("row %d: %w", row.Index, err)
	}
}

// rowFatalError is a row that cannot produce a mix. It matches apperrors.ErrRowFatal.
type rowFatalError struct {
	reason string
}

func (e *rowFatalError) Error() string { return e.reason }

func (e *rowFatalError) Is(target error) bool { return target == apperrors.ErrRowFatal }

func rowFatalf(format string, args ...any) error {
	return &rowFatalError{reason: fmt.Sprintf(format, args...)}
}

// checkRow rejects rows whose mix identity cannot be built.
func (run *importRun) checkRow(row *mapping.SourceRow) error {
	if row.Err != nil {
		return rowFatalf("malformed record on line %d: %v", row.Line, row.Err)
	}
	if row.IsEmpty() {
		return rowFatalf("row has no values")
	}
	if col := run.desc.MixNumberColumn; col != "" {
		if _, ok := row.Value(col); !ok {
			return rowFatalf("mix number column %q is blank", col)
		}
	}
	return nil
}

func (run *importRun) skip(index int, reason string) {
	run.report.Skip(index, reason)
	run.logger.Warn("Row skipped", zap.Int("row", index), zap.String("reason", reason))
}

func (s *importService) commitRow(run *importRun, res *rowResult) {
	run.materials.commitRow()
	run.registry.CommitRow()

	r := run.report
	r.MixesCreated += res.mixes
	r.ComponentsCreated += res.components
	r.PropertiesWritten += res.properties
	r.DetailsWritten += res.details
	r.PerformanceResultsCreated += res.results
	for _, id := range res.created {
		if !run.counted[id] {
			run.counted[id] = true
			r.MaterialsCreated++
		}
	}
	for _, id := range res.reused {
		if !run.counted[id] {
			run.counted[id] = true
			r.MaterialsReused++
		}
	}
	for _, w := range res.warnings {
		r.Warnings = append(r.Warnings, w)
		run.logger.Warn("Import warning",
			zap.Int("row", w.Row), zap.String("column", w.Column), zap.String("warning", w.Message))
	}
	if s.auditor != nil {
		for _, hit := range res.suspicious {
			s.auditor.LogSuspiciousCell(r.RunID, run.desc.Name, audit.SuspiciousCellDetails{
				Row:         res.row,
				Column:      hit.Column,
				Value:       hit.Value,
				Fingerprint: hit.Fingerprint,
			})
		}
	}
}

// isRowLevel reports whether err only invalidates the current row. Data and
// constraint errors raised by Postgres qualify; connection and transaction
// failures do not.
func isRowLevel(err error) bool {
	if errors.Is(err, apperrors.ErrRowFatal) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsDataException(pgErr.Code) || pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
	}
	return false
}

// applyRow runs the rules of one row in dispatch order: mix fields, mix
// insert, components, ratios, material rules, performance results.
func (s *importService) applyRow(ctx context.Context, run *importRun, row *mapping.SourceRow, res *rowResult) error {
	run.resolver.Reset()

	for _, hit := range sqlscreen.CheckCells(run.textColumns, row.Values) {
		res.suspicious = append(res.suspicious, hit)
		res.warn(hit.Column,
			fmt.Sprintf("cell matches an SQL injection pattern (fingerprint %s), stored verbatim", hit.Fingerprint))
	}

	mix, err := s.buildMix(run, row, res)
	if err != nil {
		return err
	}
	if err := s.mixes.Create(ctx, mix); err != nil {
		return err
	}
	res.mixes++

	dosages, err := s.applyComponents(ctx, run, row, mix, res)
	if err != nil {
		return err
	}

	ratios := Ratios{WC: mix.WCRatio, WB: mix.WBRatio}
	if run.desc.RatioMode == models.RatioModeComputed {
		ratios = ComputeRatios(dosages)
		ratios.WC = checkRatio(res, "w_c_ratio", ratios.WC)
		ratios.WB = checkRatio(res, "w_b_ratio", ratios.WB)
		if ratios.WC.Valid || ratios.WB.Valid {
			if err := s.mixes.UpdateRatios(ctx, mix.ID, ratios.WC, ratios.WB); err != nil {
				return err
			}
		}
	}
	for _, w := range s.opts.Bounds.Check(ratios) {
		res.warn("", w)
	}

	for _, rule := range run.stages[models.StageMaterial] {
		if err := s.applyMaterialRule(ctx, run, row, rule, res); err != nil {
			return err
		}
	}
	for _, rule := range run.stages[models.StagePerformance] {
		if err := s.applyPerformanceRule(ctx, run, row, mix, rule, res); err != nil {
			return err
		}
	}
	return nil
}

// checkRatio nulls a computed ratio the ratio column cannot hold, such as
// the w/c of a mix with a near-zero cement dosage.
func checkRatio(res *rowResult, column string, r decimal.NullDecimal) decimal.NullDecimal {
	if !r.Valid {
		return r
	}
	if err := models.CheckNumeric(models.TableConcreteMix, column, r.Decimal); err != nil {
		res.warn("", fmt.Sprintf("computed %v, stored as null", err))
		return decimal.NullDecimal{}
	}
	return r
}

func (s *importService) buildMix(run *importRun, row *mapping.SourceRow, res *rowResult) (*models.ConcreteMix, error) {
	mix := &models.ConcreteMix{
		DatasetID: run.dataset.ID,
		MixCode:   run.desc.MixCode(row.Index),
	}

	for _, rule := range run.stages[models.StageMix] {
		cell, ok := row.Value(rule.SourceColumn)
		if !ok {
			continue
		}
		switch rule.Column {
		case "notes":
			mix.AppendNote(rule.Params.Prefix, strings.TrimSpace(cell))
		case "source_mix_id":
			mix.SourceMixID = ptr(strings.TrimSpace(cell))
		case "target_strength_mpa":
			d, err := ParseDecimal(cell)
			if err != nil {
				res.warn(rule.SourceColumn, fmt.Sprintf("target strength %v, treated as absent", err))
				continue
			}
			if err := models.CheckNumeric(models.TableConcreteMix, rule.Column, d); err != nil {
				res.warn(rule.SourceColumn, fmt.Sprintf("%v, treated as absent", err))
				continue
			}
			mix.TargetStrengthMPa = decimal.NewNullDecimal(d)
		case "w_c_ratio", "w_b_ratio":
			if run.desc.RatioMode != models.RatioModeDirect {
				continue
			}
			d, err := ParseDecimal(cell)
			if err != nil {
				res.warn(rule.SourceColumn, fmt.Sprintf("%s %v, treated as absent", rule.Column, err))
				continue
			}
			d = RoundRatio(d)
			if err := models.CheckNumeric(models.TableConcreteMix, rule.Column, d); err != nil {
				res.warn(rule.SourceColumn, fmt.Sprintf("%v, treated as absent", err))
				continue
			}
			v := decimal.NewNullDecimal(d)
			if rule.Column == "w_c_ratio" {
				mix.WCRatio = v
			} else {
				mix.WBRatio = v
			}
		default:
			return nil, fmt.Errorf("unsupported concrete_mix column %q", rule.Column)
		}
	}

	if mix.SourceMixID == nil && run.desc.MixNumberColumn != "" {
		v, _ := row.Value(run.desc.MixNumberColumn)
		mix.SourceMixID = ptr(strings.TrimSpace(v))
	}
	return mix, nil
}

// applyComponents creates a component for every positive dosage and
// registers its material under the rule's reference key.
func (s *importService) applyComponents(ctx context.Context, run *importRun, row *mapping.SourceRow, mix *models.ConcreteMix, res *rowResult) ([]ComponentDosage, error) {
	var dosages []ComponentDosage
	for _, rule := range run.stages[models.StageComponent] {
		cell, ok := row.Value(rule.SourceColumn)
		if !ok {
			continue
		}
		dosage, err := ParseDecimal(cell)
		if err != nil {
			res.warn(rule.SourceColumn, fmt.Sprintf("dosage %v, treated as absent", err))
			continue
		}
		dosage = dosage.Round(dosagePlaces)
		if !dosage.IsPositive() {
			continue
		}
		if err := models.CheckNumeric(models.TableMixComponent, rule.Column, dosage); err != nil {
			res.warn(rule.SourceColumn, fmt.Sprintf("dosage %v, treated as absent", err))
			continue
		}

		tpl := rule.Params.Material
		material, err := s.getOrCreateMaterial(ctx, run, tpl, res)
		if err != nil {
			return nil, err
		}
		run.resolver.Register(tpl.ReferenceKey, material)

		component := &models.MixComponent{
			MixID:          mix.ID,
			MaterialID:     material.ID,
			DosageKgM3:     dosage,
			IsCementitious: tpl.IsCementitious,
		}
		if err := s.mixes.CreateComponent(ctx, component); err != nil {
			return nil, err
		}
		res.components++
		dosages = append(dosages, ComponentDosage{
			ClassCode:      tpl.ClassCode,
			Dosage:         dosage,
			IsCementitious: tpl.IsCementitious,
		})
	}
	return dosages, nil
}

// getOrCreateMaterial returns the material for the template's natural key.
// Existing duplicates resolve to the lowest id.
func (s *importService) getOrCreateMaterial(ctx context.Context, run *importRun, tpl *models.MaterialTemplate, res *rowResult) (*models.Material, error) {
	key := tpl.Key()
	if v, ok := run.materials.get(key.String()); ok {
		return v.(*models.Material), nil
	}

	m, err := s.materials.FindByKey(ctx, key)
	switch {
	case err == nil:
		res.reused = append(res.reused, m.ID)
	case errors.Is(err, apperrors.ErrNotFound):
		m = &models.Material{ClassCode: key.ClassCode, SubtypeCode: key.SubtypeCode, SpecificName: key.SpecificName}
		if err := s.materials.Create(ctx, m); err != nil {
			return nil, err
		}
		res.created = append(res.created, m.ID)
	default:
		return nil, err
	}

	run.materials.add(key.String(), m)
	return m, nil
}

func (s *importService) applyMaterialRule(ctx context.Context, run *importRun, row *mapping.SourceRow, rule models.MappingRule, res *rowResult) error {
	cell, ok := row.Value(rule.SourceColumn)
	if !ok {
		return nil
	}
	material, err := run.resolver.Resolve(rule.Params.MaterialRefKey)
	if err != nil {
		res.warn(rule.SourceColumn, fmt.Sprintf("rule on line %d skipped: %v", rule.Line, err))
		return nil
	}

	var number decimal.Decimal
	text := strings.TrimSpace(cell)
	if rule.Kind() == models.KindNumeric {
		number, err = ParseDecimal(cell)
		if err != nil {
			res.warn(rule.SourceColumn, fmt.Sprintf("%s.%s %v, treated as absent", rule.Table, rule.Column, err))
			return nil
		}
		if err := models.CheckNumeric(rule.Table, rule.Column, number); err != nil {
			res.warn(rule.SourceColumn, fmt.Sprintf("%v, treated as absent", err))
			return nil
		}
	}

	switch {
	case rule.Table == models.TableMaterial:
		var value any = text
		if rule.Kind() == models.KindNumeric {
			value = number
		}
		return s.materials.SetAttribute(ctx, material.ID, rule.Column, value)

	case rule.Table == models.TableMaterialProperty:
		unitID, err := run.registry.UnitID(ctx, rule.Params.Unit)
		if err != nil {
			return err
		}
		propertyID, err := run.registry.PropertyID(ctx, rule.Params.PropertyName, unitID)
		if err != nil {
			return err
		}
		methodID, err := run.registry.TestMethodID(ctx, rule.Params.TestMethod)
		if err != nil {
			return err
		}
		err = s.materials.UpsertProperty(ctx, &models.MaterialProperty{
			MaterialID:   material.ID,
			PropertyID:   propertyID,
			Value:        decimal.NewNullDecimal(number),
			UnitID:       unitID,
			TestMethodID: methodID,
		})
		if err != nil {
			return err
		}
		res.properties++
		return nil

	case models.IsDetailTable(rule.Table):
		err := s.materials.UpsertDetail(ctx, &models.MaterialDetail{
			Table:      rule.Table,
			MaterialID: material.ID,
			Column:     rule.Column,
			Number:     number,
			Text:       text,
		})
		if err != nil {
			return err
		}
		res.details++
		return nil
	}
	return fmt.Errorf("unsupported material rule target %s.%s", rule.Table, rule.Column)
}

func (s *importService) applyPerformanceRule(ctx context.Context, run *importRun, row *mapping.SourceRow, mix *models.ConcreteMix, rule models.MappingRule, res *rowResult) error {
	cell, ok := row.Value(rule.SourceColumn)
	if !ok {
		return nil
	}
	value, err := ParseDecimal(cell)
	if err != nil {
		res.warn(rule.SourceColumn, fmt.Sprintf("%s result %v, treated as absent", rule.Params.PropertyName, err))
		return nil
	}
	if err := models.CheckNumeric(models.TablePerformanceResult, rule.Column, value); err != nil {
		res.warn(rule.SourceColumn, fmt.Sprintf("%s result %v, treated as absent", rule.Params.PropertyName, err))
		return nil
	}

	p := rule.Params
	unitID, err := run.registry.UnitID(ctx, p.Unit)
	if err != nil {
		return err
	}
	propertyID, err := run.registry.PropertyID(ctx, p.PropertyName, unitID)
	if err != nil {
		return err
	}
	methodID, err := run.registry.TestMethodID(ctx, p.TestMethod)
	if err != nil {
		return err
	}
	specimenID, err := run.registry.LookupID(ctx, models.LookupSpecimen, p.Specimen)
	if err != nil {
		return err
	}
	curingID, err := run.registry.LookupID(ctx, models.LookupCuringRegime, p.Curing)
	if err != nil {
		return err
	}

	err = s.mixes.CreateResult(ctx, &models.PerformanceResult{
		MixID:          mix.ID,
		Category:       p.Category,
		PropertyID:     propertyID,
		AgeDays:        p.AgeDays,
		Value:          value,
		UnitID:         unitID,
		SpecimenID:     specimenID,
		CuringRegimeID: curingID,
		TestMethodID:   methodID,
	})
	if err != nil {
		return err
	}
	res.results++
	return nil
}
