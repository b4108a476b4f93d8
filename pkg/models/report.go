package models

import (
	"time"

	"github.com/google/uuid"
)

// SkippedRow is a row that produced no mix.
type SkippedRow struct {
	Row    int    `json:"row"` // 1-based data row index
	Reason string `json:"reason"`
}

// ImportWarning is a row-local problem that did not stop the row.
// Row 0 means the warning concerns the whole file.
type ImportWarning struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// ImportReport summarizes one import run.
type ImportReport struct {
	RunID                     uuid.UUID       `json:"run_id"`
	Dataset                   string          `json:"dataset"`
	RowsProcessed             int             `json:"rows_processed"`
	RowsSkipped               int             `json:"rows_skipped"`
	Skipped                   []SkippedRow    `json:"skipped,omitempty"`
	MixesCreated              int             `json:"mixes_created"`
	ComponentsCreated         int             `json:"components_created"`
	MaterialsCreated          int             `json:"materials_created"`
	MaterialsReused           int             `json:"materials_reused"`
	PropertiesWritten         int             `json:"properties_written"`
	DetailsWritten            int             `json:"details_written"`
	PerformanceResultsCreated int             `json:"performance_results_created"`
	Warnings                  []ImportWarning `json:"warnings,omitempty"`
	StartedAt                 time.Time       `json:"started_at"`
	Duration                  time.Duration   `json:"duration"`
}

// NewImportReport starts a report for dataset.
func NewImportReport(dataset string) *ImportReport {
	return &ImportReport{
		RunID:     uuid.New(),
		Dataset:   dataset,
		StartedAt: time.Now(),
	}
}

// Warn records a row-local warning.
func (r *ImportReport) Warn(row int, column, message string) {
	r.Warnings = append(r.Warnings, ImportWarning{Row: row, Column: column, Message: message})
}

// Skip records a row that could not be imported.
func (r *ImportReport) Skip(row int, reason string) {
	r.RowsSkipped++
	r.Skipped = append(r.Skipped, SkippedRow{Row: row, Reason: reason})
}

// ForeignKeyRewrite counts rows repointed in one referencing column.
type ForeignKeyRewrite struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	RowsUpdated int64  `json:"rows_updated"`
	// RowsDropped are child rows deleted because the survivor already had an
	// equivalent row under a unique key (e.g. the same property twice).
	RowsDropped int64 `json:"rows_dropped"`
}

// CanonicalizationReport summarizes one canonicalization run.
type CanonicalizationReport struct {
	RunID                uuid.UUID           `json:"run_id"`
	DryRun               bool                `json:"dry_run"`
	Attempts             int                 `json:"attempts"`
	MaterialsBefore      int                 `json:"materials_before"`
	MaterialsAfter       int                 `json:"materials_after"`
	Reclassified         int                 `json:"reclassified"`
	Groups               int                 `json:"groups"`
	GroupsMerged         int                 `json:"groups_merged"`
	MaterialsMerged      int                 `json:"materials_merged"`
	CanonicalRowsUpdated int                 `json:"canonical_rows_updated"`
	Rewrites             []ForeignKeyRewrite `json:"rewrites,omitempty"`
	Merges               []MaterialMergeLog  `json:"merges,omitempty"`
	AuditFiles           []string            `json:"audit_files,omitempty"`
	// AuditError is set when the run committed but its audit files could not be written.
	AuditError string        `json:"audit_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// AddRewrite accumulates FK rewrite counts per table and column.
func (r *CanonicalizationReport) AddRewrite(table, column string, updated, dropped int64) {
	for i := range r.Rewrites {
		if r.Rewrites[i].Table == table && r.Rewrites[i].Column == column {
			r.Rewrites[i].RowsUpdated += updated
			r.Rewrites[i].RowsDropped += dropped
			return
		}
	}
	r.Rewrites = append(r.Rewrites, ForeignKeyRewrite{Table: table, Column: column, RowsUpdated: updated, RowsDropped: dropped})
}
