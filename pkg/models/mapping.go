package models

import "sort"

// TargetTable names a table a mapping rule writes to.
type TargetTable string

const (
	TableConcreteMix       TargetTable = "concrete_mix"
	TableMixComponent      TargetTable = "mix_component"
	TableMaterial          TargetTable = "material"
	TableMaterialProperty  TargetTable = "material_property"
	TableAggregateDetail   TargetTable = "aggregate_detail"
	TableCementDetail      TargetTable = "cement_detail"
	TableScmDetail         TargetTable = "scm_detail"
	TableAdmixtureDetail   TargetTable = "admixture_detail"
	TableFibreDetail       TargetTable = "fibre_detail"
	TablePerformanceResult TargetTable = "performance_result"
)

// ColumnKind tells how a cell is parsed before it is written.
type ColumnKind int

const (
	KindNumeric ColumnKind = iota
	KindText
)

// TargetColumns whitelists the writable columns of every target table.
var TargetColumns = map[TargetTable]map[string]ColumnKind{
	TableConcreteMix: {
		"notes":               KindText,
		"w_c_ratio":           KindNumeric,
		"w_b_ratio":           KindNumeric,
		"source_mix_id":       KindText,
		"target_strength_mpa": KindNumeric,
	},
	TableMixComponent: {
		"dosage_kg_m3": KindNumeric,
	},
	TableMaterial: {
		"manufacturer":      KindText,
		"country_of_origin": KindText,
		"density_kg_m3":     KindNumeric,
	},
	TableMaterialProperty: {
		"value": KindNumeric,
	},
	TableAggregateDetail: {
		"d_min_mm":             KindNumeric,
		"d_max_mm":             KindNumeric,
		"water_absorption_pct": KindNumeric,
		"bulk_density_kg_m3":   KindNumeric,
		"fineness_modulus":     KindNumeric,
		"los_angeles_pct":      KindNumeric,
	},
	TableCementDetail: {
		"strength_class": KindText,
		"blaine_m2_kg":   KindNumeric,
		"cao_pct":        KindNumeric,
		"sio2_pct":       KindNumeric,
		"al2o3_pct":      KindNumeric,
		"fe2o3_pct":      KindNumeric,
		"so3_pct":        KindNumeric,
		"loi_pct":        KindNumeric,
	},
	TableScmDetail: {
		"cao_pct":                KindNumeric,
		"sio2_pct":               KindNumeric,
		"al2o3_pct":              KindNumeric,
		"fe2o3_pct":              KindNumeric,
		"mgo_pct":                KindNumeric,
		"loi_pct":                KindNumeric,
		"blaine_m2_kg":           KindNumeric,
		"activity_index_28d_pct": KindNumeric,
	},
	TableAdmixtureDetail: {
		"solid_content_pct": KindNumeric,
		"density_kg_m3":     KindNumeric,
		"chemical_base":     KindText,
	},
	TableFibreDetail: {
		"length_mm":            KindNumeric,
		"diameter_mm":          KindNumeric,
		"aspect_ratio":         KindNumeric,
		"tensile_strength_mpa": KindNumeric,
		"fibre_type":           KindText,
	},
	TablePerformanceResult: {
		"value": KindNumeric,
	},
}

// IsDetailTable reports whether t is one of the per-material detail tables.
func IsDetailTable(t TargetTable) bool {
	switch t {
	case TableAggregateDetail, TableCementDetail, TableScmDetail, TableAdmixtureDetail, TableFibreDetail:
		return true
	}
	return false
}

// ColumnsOf returns the sorted writable columns of t.
func ColumnsOf(t TargetTable) []string {
	cols := make([]string, 0, len(TargetColumns[t]))
	for c := range TargetColumns[t] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// RuleStage orders rules within a row.
type RuleStage int

const (
	StageMix         RuleStage = iota // concrete_mix fields, before the mix is inserted
	StageComponent                    // mix_component rules, register reference keys
	StageMaterial                     // material, property and detail rules
	StagePerformance                  // performance_result rules
)

// MaterialTemplate defines the material a component column creates or reuses.
type MaterialTemplate struct {
	ClassCode      string `json:"class_code"`
	SubtypeCode    string `json:"subtype_code"`
	SpecificName   string `json:"specific_name"`
	IsCementitious bool   `json:"is_cementitious"`
	ReferenceKey   string `json:"reference_key,omitempty"`
}

// Key returns the get-or-create natural key of the template.
func (t *MaterialTemplate) Key() MaterialKey {
	return MaterialKey{ClassCode: t.ClassCode, SubtypeCode: t.SubtypeCode, SpecificName: t.SpecificName}
}

// RuleParams are the decoded extra_kwargs of a mapping rule.
type RuleParams struct {
	Prefix         string              `json:"prefix,omitempty"`
	Material       *MaterialTemplate   `json:"material,omitempty"`
	MaterialRefKey string              `json:"material_ref_key,omitempty"`
	PropertyName   string              `json:"property_name,omitempty"`
	Unit           string              `json:"unit,omitempty"`
	TestMethod     string              `json:"test_method,omitempty"`
	Specimen       string              `json:"specimen,omitempty"`
	Curing         string              `json:"curing,omitempty"`
	Category       PerformanceCategory `json:"category,omitempty"`
	AgeDays        *int                `json:"age_days,omitempty"`
}

// MappingRule routes one source column to one target column.
type MappingRule struct {
	Line         int         `json:"line"` // line in the mapping file, for messages
	SourceColumn string      `json:"source_column"`
	Table        TargetTable `json:"target_table"`
	Column       string      `json:"target_column"`
	Params       RuleParams  `json:"extra_kwargs"`
}

// Kind returns how the rule's cell is parsed.
func (r *MappingRule) Kind() ColumnKind {
	return TargetColumns[r.Table][r.Column]
}

// Stage returns the dispatch stage of the rule.
func (r *MappingRule) Stage() RuleStage {
	switch {
	case r.Table == TableConcreteMix:
		return StageMix
	case r.Table == TableMixComponent:
		return StageComponent
	case r.Table == TablePerformanceResult:
		return StagePerformance
	default:
		return StageMaterial
	}
}

// ColumnMapping is a loaded, validated mapping file.
type ColumnMapping struct {
	Path  string        `json:"path"`
	Rules []MappingRule `json:"rules"`
	// Warnings are load-time findings that do not invalidate the file.
	Warnings []string `json:"warnings,omitempty"`
}

// SourceColumns returns the distinct source columns in rule order.
func (m *ColumnMapping) SourceColumns() []string {
	seen := make(map[string]bool, len(m.Rules))
	var cols []string
	for _, r := range m.Rules {
		if !seen[r.SourceColumn] {
			seen[r.SourceColumn] = true
			cols = append(cols, r.SourceColumn)
		}
	}
	return cols
}

// RulesByStage returns the rules of one stage, preserving file order.
func (m *ColumnMapping) RulesByStage(stage RuleStage) []MappingRule {
	var out []MappingRule
	for _, r := range m.Rules {
		if r.Stage() == stage {
			out = append(out, r)
		}
	}
	return out
}
