package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/models"
)

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// LoadDescriptor reads a dataset descriptor YAML file.
func LoadDescriptor(path string) (*models.DatasetDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidDescriptor, err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDescriptor decodes and validates a descriptor. Unknown keys are rejected.
func ParseDescriptor(data []byte) (*models.DatasetDescriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d models.DatasetDescriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty descriptor", apperrors.ErrInvalidDescriptor)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidDescriptor, err)
	}

	if err := ValidateDescriptor(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ValidateDescriptor normalizes d in place and checks required fields.
func ValidateDescriptor(d *models.DatasetDescriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Prefix = strings.TrimSpace(d.Prefix)

	if d.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrInvalidDescriptor)
	}
	if !prefixPattern.MatchString(d.Prefix) {
		return fmt.Errorf("%w: prefix %q must be letters, digits or underscores", apperrors.ErrInvalidDescriptor, d.Prefix)
	}

	switch d.RatioMode {
	case "":
		d.RatioMode = models.RatioModeComputed
	case models.RatioModeComputed, models.RatioModeDirect:
	default:
		return fmt.Errorf("%w: ratio_mode must be %q or %q (got %q)",
			apperrors.ErrInvalidDescriptor, models.RatioModeComputed, models.RatioModeDirect, d.RatioMode)
	}

	if d.PublicationYear < 0 {
		return fmt.Errorf("%w: publication_year must not be negative", apperrors.ErrInvalidDescriptor)
	}
	return nil
}
