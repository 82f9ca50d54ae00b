package models

import "time"

const (
	EventImportPhase = "catalog.import.phase"
	EventImportBatch = "catalog.import.batch"
)

// ImportEvent is published to the configured event sink.
type ImportEvent struct {
	Type      string       `json:"type"`
	Brand     string       `json:"brand"`
	UploadID  string       `json:"upload_id"`
	Phase     ImportPhase  `json:"phase,omitempty"`
	Batch     *BatchResult `json:"batch,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
