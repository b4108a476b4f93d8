// Package audit produces the human-facing audit trail of mixdb runs: structured
// log events for suspicious imported content, and CSV snapshots of material
// canonicalization.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContentEventType categorizes content audit events for filtering.
type ContentEventType string

const (
	// EventSuspiciousCell is logged when libinjection flags an imported text cell.
	EventSuspiciousCell ContentEventType = "suspicious_cell"
)

// ContentEvent is the JSON payload attached to every audit log line.
type ContentEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	EventType ContentEventType `json:"event_type"`
	RunID     uuid.UUID        `json:"run_id"`
	Dataset   string           `json:"dataset"`
	Details   any              `json:"details"`
	Severity  string           `json:"severity"` // info, warning
}

// SuspiciousCellDetails locates a flagged cell in the source file.
type SuspiciousCellDetails struct {
	Row         int    `json:"row"`
	Column      string `json:"column"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"`
}

// ContentAuditor logs content events under the "security_audit" logger name.
type ContentAuditor struct {
	logger *zap.Logger
}

// NewContentAuditor creates a new content auditor.
func NewContentAuditor(logger *zap.Logger) *ContentAuditor {
	return &ContentAuditor{logger: logger.Named("security_audit")}
}

// maxLoggedValue bounds the cell text copied into a log line.
const maxLoggedValue = 200

// LogSuspiciousCell records a flagged cell. The cell is still imported verbatim.
func (a *ContentAuditor) LogSuspiciousCell(runID uuid.UUID, dataset string, details SuspiciousCellDetails) {
	if len(details.Value) > maxLoggedValue {
		details.Value = details.Value[:maxLoggedValue] + "..."
	}

	event := ContentEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSuspiciousCell,
		RunID:     runID,
		Dataset:   dataset,
		Details:   details,
		Severity:  "warning",
	}

	// Marshaling these types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Suspicious content in imported cell",
		zap.String("event_json", string(eventJSON)),
		zap.String("run_id", runID.String()),
		zap.String("dataset", dataset),
		zap.Int("row", details.Row),
		zap.String("column", details.Column),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "warning"),
	)
}
