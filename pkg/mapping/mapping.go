// Package mapping loads the declarative inputs of an import: the column-mapping
// file, the dataset descriptor and the source CSV itself. Everything here fails
// before the importer opens a transaction.
package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

// Header columns of a mapping file.
const (
	colSourceColumn = "source_column"
	colTargetTable  = "target_table"
	colTargetColumn = "target_column"
	colExtraKwargs  = "extra_kwargs"
)

// extra_kwargs keys accepted per target table.
var allowedKwargs = map[models.TargetTable][]string{
	models.TableConcreteMix:       {"prefix"},
	models.TableMixComponent:      {"class_code", "subtype_code", "specific_name", "is_cementitious", "reference_key"},
	models.TableMaterial:          {"material_ref_key"},
	models.TableMaterialProperty:  {"material_ref_key", "property_name", "unit", "test_method"},
	models.TablePerformanceResult: {"category", "property_name", "age_days", "unit", "test_method", "specimen", "curing"},
}

// LoadColumnMapping reads and validates a mapping file.
func LoadColumnMapping(path string) (*models.ColumnMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMapping, err)
	}
	defer f.Close()

	m, err := ParseColumnMapping(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseColumnMapping parses a mapping CSV. Any malformed line fails the whole
// file; the error wraps apperrors.ErrInvalidMapping and names the line.
func ParseColumnMapping(r io.Reader) (*models.ColumnMapping, error) {
	cr := csv.NewReader(StripBOM(r))
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", apperrors.ErrInvalidMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", apperrors.ErrInvalidMapping, err)
	}

	idx, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	m := &models.ColumnMapping{}
	refKeys := make(map[string]int)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMapping, err)
		}
		line, _ := cr.FieldPos(0)
		if isBlank(record) {
			continue
		}

		rule, err := parseRule(record, idx, line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", apperrors.ErrInvalidMapping, line, err)
		}

		if tpl := rule.Params.Material; tpl != nil && tpl.ReferenceKey != "" {
			if prev, ok := refKeys[tpl.ReferenceKey]; ok {
				m.Warnings = append(m.Warnings, fmt.Sprintf(
					"line %d: reference_key %q already defined on line %d; the later column wins when both are present",
					line, tpl.ReferenceKey, prev))
			}
			refKeys[tpl.ReferenceKey] = line
		}
		m.Rules = append(m.Rules, rule)
	}

	if len(m.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules", apperrors.ErrInvalidMapping)
	}

	for _, rule := range m.Rules {
		key := rule.Params.MaterialRefKey
		if key == "" {
			continue
		}
		if _, ok := refKeys[key]; !ok {
			m.Warnings = append(m.Warnings, fmt.Sprintf(
				"line %d: material_ref_key %q is never defined by a component rule; the rule will always be skipped",
				rule.Line, key))
		}
	}

	return m, nil
}

func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{colSourceColumn, colTargetTable, colTargetColumn} {
		if _, ok := idx[want]; !ok {
			return nil, fmt.Errorf("%w: header is missing %q", apperrors.ErrInvalidMapping, want)
		}
	}
	return idx, nil
}

func field(record []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// NormalizeTableName lower-cases and singularizes a table name, so that
// "Concrete_Mixes" and "concrete_mix" name the same table.
func NormalizeTableName(name string) models.TargetTable {
	name = strings.ToLower(strings.TrimSpace(name))
	return models.TargetTable(inflection.Singular(name))
}

func parseRule(record []string, idx map[string]int, line int) (models.MappingRule, error) {
	rule := models.MappingRule{
		Line: line,
		// Matched literally against the CSV header, surrounding whitespace included.
		SourceColumn: field(record, idx, colSourceColumn),
		Table:        NormalizeTableName(field(record, idx, colTargetTable)),
		Column:       strings.ToLower(strings.TrimSpace(field(record, idx, colTargetColumn))),
	}

	if strings.TrimSpace(rule.SourceColumn) == "" {
		return rule, errors.New("source_column is empty")
	}
	columns, ok := models.TargetColumns[rule.Table]
	if !ok {
		return rule, fmt.Errorf("unknown target_table %q", field(record, idx, colTargetTable))
	}
	if _, ok := columns[rule.Column]; !ok {
		return rule, fmt.Errorf("unknown target_column %q for table %s (allowed: %s)",
			rule.Column, rule.Table, strings.Join(models.ColumnsOf(rule.Table), ", "))
	}

	kwargs, err := jsonutil.ParseObject(field(record, idx, colExtraKwargs))
	if err != nil {
		return rule, fmt.Errorf("extra_kwargs: %v", err)
	}
	if err := checkKwargKeys(rule.Table, kwargs); err != nil {
		return rule, err
	}

	params, err := buildParams(rule.Table, rule.Column, kwargs)
	if err != nil {
		return rule, err
	}
	rule.Params = params
	return rule, nil
}

func checkKwargKeys(table models.TargetTable, kwargs jsonutil.Object) error {
	allowed := allowedKwargs[table]
	if models.IsDetailTable(table) {
		allowed = []string{"material_ref_key"}
	}
	for _, k := range kwargs.Keys() {
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("extra_kwargs key %q is not valid for %s", k, table)
		}
	}
	return nil
}

func buildParams(table models.TargetTable, column string, kwargs jsonutil.Object) (models.RuleParams, error) {
	var p models.RuleParams

	switch {
	case table == models.TableConcreteMix:
		p.Prefix = kwargs.String("prefix")
		if p.Prefix != "" && column != "notes" {
			return p, fmt.Errorf("prefix is only valid for concrete_mix.notes")
		}

	case table == models.TableMixComponent:
		tpl, err := buildTemplate(kwargs)
		if err != nil {
			return p, err
		}
		p.Material = tpl

	case table == models.TablePerformanceResult:
		p.Category = models.PerformanceCategory(strings.ToLower(strings.TrimSpace(kwargs.String("category"))))
		if !p.Category.IsValid() {
			return p, fmt.Errorf("category must be one of fresh, hardened, durability (got %q)", kwargs.String("category"))
		}
		if p.PropertyName = strings.TrimSpace(kwargs.String("property_name")); p.PropertyName == "" {
			return p, errors.New("property_name is required for performance_result")
		}
		age, ok, err := kwargs.Int("age_days")
		if err != nil {
			return p, err
		}
		if ok {
			if age < 0 || age > math.MaxInt32 {
				return p, fmt.Errorf("age_days must be between 0 and %d (got %d)", math.MaxInt32, age)
			}
			p.AgeDays = &age
		}
		p.Unit = strings.TrimSpace(kwargs.String("unit"))
		p.TestMethod = strings.TrimSpace(kwargs.String("test_method"))
		p.Specimen = strings.TrimSpace(kwargs.String("specimen"))
		p.Curing = strings.TrimSpace(kwargs.String("curing"))

	default:
		// material, material_property and the detail tables hang off a registered material.
		if p.MaterialRefKey = strings.TrimSpace(kwargs.String("material_ref_key")); p.MaterialRefKey == "" {
			return p, fmt.Errorf("material_ref_key is required for %s", table)
		}
		if table == models.TableMaterialProperty {
			if p.PropertyName = strings.TrimSpace(kwargs.String("property_name")); p.PropertyName == "" {
				return p, errors.New("property_name is required for material_property")
			}
			p.Unit = strings.TrimSpace(kwargs.String("unit"))
			p.TestMethod = strings.TrimSpace(kwargs.String("test_method"))
		}
	}

	return p, nil
}

func buildTemplate(kwargs jsonutil.Object) (*models.MaterialTemplate, error) {
	tpl := &models.MaterialTemplate{
		ClassCode:    models.NormalizeClassCode(kwargs.String("class_code")),
		SubtypeCode:  strings.TrimSpace(kwargs.String("subtype_code")),
		SpecificName: strings.TrimSpace(kwargs.String("specific_name")),
		ReferenceKey: strings.TrimSpace(kwargs.String("reference_key")),
	}
	if tpl.ClassCode == "" {
		return nil, errors.New("class_code is required for mix_component")
	}
	if !models.IsValidClassCode(tpl.ClassCode) {
		return nil, fmt.Errorf("unknown class_code %q", kwargs.String("class_code"))
	}
	if tpl.SubtypeCode == "" {
		return nil, errors.New("subtype_code is required for mix_component")
	}
	if tpl.SpecificName == "" {
		tpl.SpecificName = tpl.SubtypeCode
	}

	cementitious, ok, err := kwargs.Bool("is_cementitious")
	if err != nil {
		return nil, err
	}
	if ok {
		tpl.IsCementitious = cementitious
	} else {
		tpl.IsCementitious = tpl.ClassCode == models.ClassCement
	}
	return tpl, nil
}

// MissingColumns lists mapped source columns absent from the CSV header.
// Comparison is exact: "Cement " and "Cement" are different columns.
func MissingColumns(m *models.ColumnMapping, header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, c := range m.SourceColumns() {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
