// Package sql screens imported text for SQL injection patterns.
//
// Imported text is always written through bound parameters, so a hit is not a
// threat to mixdb itself. It usually means a research CSV was scraped from a
// page that carried payloads, and the cell should be reviewed before the data
// is exported elsewhere.
package sql

import (
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a cell that matched an injection pattern.
type InjectionCheckResult struct {
	Column      string // source column of the cell
	Value       string // the cell as read
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckCellForInjection runs libinjection over one cell.
// Returns nil for blank and clean values.
func CheckCellForInjection(column, value string) *InjectionCheckResult {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Column:      column,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// CheckCells checks every cell of a row and returns the hits in column order.
func CheckCells(columns []string, values map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, col := range columns {
		if result := CheckCellForInjection(col, values[col]); result != nil {
			results = append(results, result)
		}
	}
	return results
}
