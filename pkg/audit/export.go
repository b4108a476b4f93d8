package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// Artifact names used in file names.
const (
	ArtifactMaterialsBefore = "materials_before"
	ArtifactMaterialsAfter  = "materials_after"
	ArtifactMergeLog        = "merge_log"
	ArtifactMergePlan       = "merge_plan"
)

var materialHeader = []string{
	"material_id", "class_code", "subtype_code", "specific_name",
	"manufacturer", "country_of_origin", "density_kg_m3",
}

var mergeHeader = []string{"run_id", "old_material_id", "new_material_id", "merged_at"}

// CSVExporter writes canonicalization snapshots under a directory.
// Files are named "<timestamp>_<run id>_<artifact>.csv" and never overwritten.
type CSVExporter struct {
	dir string
	now func() time.Time
}

// NewCSVExporter creates an exporter writing into dir. dir is created on first write.
func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (e *CSVExporter) Dir() string {
	return e.dir
}

// WriteMaterials writes a material snapshot and returns the file path.
func (e *CSVExporter) WriteMaterials(runID uuid.UUID, artifact string, materials []*models.Material) (string, error) {
	rows := make([][]string, 0, len(materials))
	for _, m := range materials {
		density := ""
		if m.DensityKgM3.Valid {
			density = m.DensityKgM3.Decimal.String()
		}
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			sanitizeCSVField(m.ClassCode),
			sanitizeCSVField(m.SubtypeCode),
			sanitizeCSVField(m.SpecificName),
			sanitizeCSVField(deref(m.Manufacturer)),
			sanitizeCSVField(deref(m.CountryOfOrigin)),
			density,
		})
	}
	return e.write(runID, artifact, materialHeader, rows)
}

// WriteMergeLog writes merge entries (applied or planned) and returns the file path.
func (e *CSVExporter) WriteMergeLog(runID uuid.UUID, artifact string, entries []models.MaterialMergeLog) (string, error) {
	rows := make([][]string, 0, len(entries))
	for _, m := range entries {
		rows = append(rows, []string{
			m.RunID.String(),
			strconv.FormatInt(m.OldMaterialID, 10),
			strconv.FormatInt(m.NewMaterialID, 10),
			m.MergedAt.UTC().Format(time.RFC3339),
		})
	}
	return e.write(runID, artifact, mergeHeader, rows)
}

func (e *CSVExporter) write(runID uuid.UUID, artifact string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.csv", e.now().UTC().Format("20060102T150405Z"), runID, artifact)
	path := filepath.Join(e.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// sanitizeCSVField neutralizes spreadsheet formulas in text cells.
func sanitizeCSVField(field string) string {
	if field == "" {
		return field
	}
	if strings.HasPrefix(field, "=") || strings.HasPrefix(field, "+") ||
		strings.HasPrefix(field, "-") || strings.HasPrefix(field, "@") {
		return "'" + field
	}
	return field
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
