package models

import "strings"

// Material class codes. The set is closed: mapping files naming any other
// class fail to load.
const (
	ClassCement          = "CEMENT"
	ClassSCM             = "SCM"
	ClassWater           = "WATER"
	ClassAdmixture       = "ADM"
	ClassCoarseAggregate = "AGGR_C"
	ClassFineAggregate   = "AGGR_F"
	ClassFibre           = "FIBRE"
)

// MaterialClass is a row of material_class.
type MaterialClass struct {
	ClassCode string `json:"class_code"`
	Name      string `json:"name"`
}

// MaterialClasses is seeded by every import.
var MaterialClasses = []MaterialClass{
	{ClassCode: ClassCement, Name: "Cement"},
	{ClassCode: ClassSCM, Name: "Supplementary cementitious material"},
	{ClassCode: ClassWater, Name: "Water"},
	{ClassCode: ClassAdmixture, Name: "Chemical admixture"},
	{ClassCode: ClassCoarseAggregate, Name: "Coarse aggregate"},
	{ClassCode: ClassFineAggregate, Name: "Fine aggregate"},
	{ClassCode: ClassFibre, Name: "Fibre"},
}

// NormalizeClassCode upper-cases and trims a class code as written in input files.
func NormalizeClassCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidClassCode reports whether code (after normalization) is a known class.
func IsValidClassCode(code string) bool {
	code = NormalizeClassCode(code)
	for _, c := range MaterialClasses {
		if c.ClassCode == code {
			return true
		}
	}
	return false
}

// Unit is a row of unit.
type Unit struct {
	ID     int64  `json:"unit_id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// BaseUnits is seeded by every import.
var BaseUnits = []Unit{
	{Symbol: "kg/m3", Name: "kilogram per cubic metre"},
	{Symbol: "MPa", Name: "megapascal"},
	{Symbol: "mm", Name: "millimetre"},
	{Symbol: "%", Name: "percent"},
	{Symbol: "days", Name: "days"},
}

// Property is a row of property_dictionary.
type Property struct {
	ID          int64  `json:"property_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	UnitID      *int64 `json:"unit_id,omitempty"`
}

// TestMethod is a row of test_method.
type TestMethod struct {
	ID       int64   `json:"test_method_id"`
	Name     string  `json:"name"`
	Standard *string `json:"standard,omitempty"`
}

// Lookup tables with a single natural-key column.
const (
	LookupSpecimen     = "specimen"
	LookupCuringRegime = "curing_regime"
)
