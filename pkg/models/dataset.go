package models

import "time"

// RatioMode selects how w/c and w/b are obtained for a dataset.
type RatioMode string

const (
	RatioModeComputed RatioMode = "computed" // from component dosages
	RatioModeDirect   RatioMode = "direct"   // copied from mapped ratio columns
)

// Dataset is a named source of mixes. Stored in dataset table.
type Dataset struct {
	ID              int64      `json:"dataset_id"`
	Name            string     `json:"name"`
	Prefix          string     `json:"prefix"`
	Description     *string    `json:"description,omitempty"`
	SourceCitation  *string    `json:"source_citation,omitempty"`
	PublicationYear *int       `json:"publication_year,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastImportAt    *time.Time `json:"last_import_at,omitempty"`
}

// DatasetDescriptor describes the dataset a CSV file is imported into.
// Loaded from YAML by the mapping package.
type DatasetDescriptor struct {
	Name            string    `yaml:"name" json:"name"`
	Prefix          string    `yaml:"prefix" json:"prefix"`
	Description     string    `yaml:"description" json:"description,omitempty"`
	SourceCitation  string    `yaml:"source_citation" json:"source_citation,omitempty"`
	PublicationYear int       `yaml:"publication_year" json:"publication_year,omitempty"`
	RatioMode       RatioMode `yaml:"ratio_mode" json:"ratio_mode"`
	// MixNumberColumn, when set, must be non-blank in every row; a blank value
	// makes the row unimportable.
	MixNumberColumn string `yaml:"mix_number_column" json:"mix_number_column,omitempty"`
}

// MixCode builds the globally unique code of the mix for a 1-based row index.
func (d *DatasetDescriptor) MixCode(rowIndex int) string {
	return MixCode(d.Prefix, rowIndex)
}
