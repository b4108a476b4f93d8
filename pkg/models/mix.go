package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConcreteMix is one mix design. Stored in concrete_mix table.
type ConcreteMix struct {
	ID                int64               `json:"mix_id"`
	DatasetID         int64               `json:"dataset_id"`
	MixCode           string              `json:"mix_code"`
	SourceMixID       *string             `json:"source_mix_id,omitempty"`
	WCRatio           decimal.NullDecimal `json:"w_c_ratio"`
	WBRatio           decimal.NullDecimal `json:"w_b_ratio"`
	TargetStrengthMPa decimal.NullDecimal `json:"target_strength_mpa"`
	Notes             string              `json:"notes"` // overflow for source fields without a column
	CreatedAt         time.Time           `json:"created_at"`
}

// MixCode formats "{prefix}-{rowIndex}".
func MixCode(prefix string, rowIndex int) string {
	return fmt.Sprintf("%s-%d", prefix, rowIndex)
}

// AppendNote adds "{prefix}{value}; " to the notes.
func (m *ConcreteMix) AppendNote(prefix, value string) {
	m.Notes += prefix + value + "; "
}

// MixComponent links a mix to a material with a positive dosage.
type MixComponent struct {
	ID             int64           `json:"component_id"`
	MixID          int64           `json:"mix_id"`
	MaterialID     int64           `json:"material_id"`
	DosageKgM3     decimal.Decimal `json:"dosage_kg_m3"`
	IsCementitious bool            `json:"is_cementitious"`
}

// PerformanceCategory groups test measurements.
type PerformanceCategory string

const (
	CategoryFresh      PerformanceCategory = "fresh"
	CategoryHardened   PerformanceCategory = "hardened"
	CategoryDurability PerformanceCategory = "durability"
)

// IsValid reports whether c is one of the three categories.
func (c PerformanceCategory) IsValid() bool {
	switch c {
	case CategoryFresh, CategoryHardened, CategoryDurability:
		return true
	}
	return false
}

// PerformanceResult is a single test measurement of a mix. Never mutated after creation.
type PerformanceResult struct {
	ID             int64               `json:"result_id"`
	MixID          int64               `json:"mix_id"`
	Category       PerformanceCategory `json:"category"`
	PropertyID     int64               `json:"property_id"`
	AgeDays        *int                `json:"age_days,omitempty"`
	Value          decimal.Decimal     `json:"value"`
	UnitID         *int64              `json:"unit_id,omitempty"`
	SpecimenID     *int64              `json:"specimen_id,omitempty"`
	CuringRegimeID *int64              `json:"curing_regime_id,omitempty"`
	TestMethodID   *int64              `json:"test_method_id,omitempty"`
}
