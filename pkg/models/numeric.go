package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NumericColumn is the declared precision and scale of a NUMERIC column.
type NumericColumn struct {
	Precision int32
	Scale     int32
}

// Fits reports whether d can be stored in the column. Postgres rounds to the
// scale before checking the integer digits, and so does Fits.
func (c NumericColumn) Fits(d decimal.Decimal) bool {
	limit := decimal.New(1, c.Precision-c.Scale)
	return d.Round(c.Scale).Abs().LessThan(limit)
}

func (c NumericColumn) String() string {
	return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
}

// NumericColumns mirrors the NUMERIC declarations of the schema for every
// numeric column an import writes.
var NumericColumns = map[TargetTable]map[string]NumericColumn{
	TableConcreteMix: {
		"w_c_ratio":           {6, 2},
		"w_b_ratio":           {6, 2},
		"target_strength_mpa": {8, 2},
	},
	TableMixComponent: {
		"dosage_kg_m3": {10, 3},
	},
	TableMaterial: {
		"density_kg_m3": {10, 3},
	},
	TableMaterialProperty: {
		"value": {14, 4},
	},
	TableAggregateDetail: {
		"d_min_mm":             {8, 3},
		"d_max_mm":             {8, 3},
		"water_absorption_pct": {8, 3},
		"bulk_density_kg_m3":   {10, 3},
		"fineness_modulus":     {6, 3},
		"los_angeles_pct":      {8, 3},
	},
	TableCementDetail: {
		"blaine_m2_kg": {10, 3},
		"cao_pct":      {8, 3},
		"sio2_pct":     {8, 3},
		"al2o3_pct":    {8, 3},
		"fe2o3_pct":    {8, 3},
		"so3_pct":      {8, 3},
		"loi_pct":      {8, 3},
	},
	TableScmDetail: {
		"cao_pct":                {8, 3},
		"sio2_pct":               {8, 3},
		"al2o3_pct":              {8, 3},
		"fe2o3_pct":              {8, 3},
		"mgo_pct":                {8, 3},
		"loi_pct":                {8, 3},
		"blaine_m2_kg":           {10, 3},
		"activity_index_28d_pct": {8, 3},
	},
	TableAdmixtureDetail: {
		"solid_content_pct": {8, 3},
		"density_kg_m3":     {10, 3},
	},
	TableFibreDetail: {
		"length_mm":            {8, 3},
		"diameter_mm":          {8, 4},
		"aspect_ratio":         {8, 2},
		"tensile_strength_mpa": {10, 2},
	},
	TablePerformanceResult: {
		"value": {14, 4},
	},
}

// CheckNumeric returns an error when d would overflow table.column.
// Columns without a declared precision always pass.
func CheckNumeric(table TargetTable, column string, d decimal.Decimal) error {
	col, ok := NumericColumns[table][column]
	if !ok || col.Fits(d) {
		return nil
	}
	return fmt.Errorf("value %s out of range for %s.%s %s", d.String(), table, column, col)
}
