package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Material is a reusable concrete ingredient. Stored in material table.
type Material struct {
	ID              int64               `json:"material_id"`
	ClassCode       string              `json:"class_code"`
	SubtypeCode     string              `json:"subtype_code"`
	SpecificName    string              `json:"specific_name"`
	Manufacturer    *string             `json:"manufacturer,omitempty"`
	CountryOfOrigin *string             `json:"country_of_origin,omitempty"`
	DensityKgM3     decimal.NullDecimal `json:"density_kg_m3"`
	CreatedAt       time.Time           `json:"created_at"`
}

// MaterialKey is the natural key used by get-or-create during import.
type MaterialKey struct {
	ClassCode    string
	SubtypeCode  string
	SpecificName string
}

// Key returns the natural key of m.
func (m *Material) Key() MaterialKey {
	return MaterialKey{ClassCode: m.ClassCode, SubtypeCode: m.SubtypeCode, SpecificName: m.SpecificName}
}

func (k MaterialKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ClassCode, k.SubtypeCode, k.SpecificName)
}

// MaterialProperty is a measured property of a material (one per property).
type MaterialProperty struct {
	ID           int64               `json:"material_property_id"`
	MaterialID   int64               `json:"material_id"`
	PropertyID   int64               `json:"property_id"`
	Value        decimal.NullDecimal `json:"value"`
	UnitID       *int64              `json:"unit_id,omitempty"`
	TestMethodID *int64              `json:"test_method_id,omitempty"`
}

// MaterialDetail is one column value of a class-specific detail table.
// Detail rows are keyed by material_id and written as upserts.
type MaterialDetail struct {
	Table      TargetTable `json:"table"`
	MaterialID int64       `json:"material_id"`
	Column     string      `json:"column"`
	// Exactly one of Number or Text is used, per the column kind.
	Number decimal.Decimal `json:"number"`
	Text   string          `json:"text"`
}

// MaterialMergeLog records one superseded material. Append-only.
type MaterialMergeLog struct {
	ID            int64     `json:"merge_id"`
	RunID         uuid.UUID `json:"run_id"`
	OldMaterialID int64     `json:"old_material_id"`
	NewMaterialID int64     `json:"new_material_id"`
	MergedAt      time.Time `json:"merged_at"`
}
