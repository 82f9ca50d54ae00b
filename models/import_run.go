package models

import "time"

// ImportPhase is the lifecycle phase of an import run.
type ImportPhase string

const (
	PhaseParsing   ImportPhase = "parsing"
	PhasePreparing ImportPhase = "preparing"
	PhaseUploading ImportPhase = "uploading"
	PhaseCompleted ImportPhase = "completed"
	PhaseError     ImportPhase = "error"
)

// Terminal reports whether no further transitions are expected.
func (p ImportPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Progress counts processed products against the run total.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ImportRunState is the persisted record of a run, one per brand.
type ImportRunState struct {
	Brand              string      `json:"brand"`
	UploadID           string      `json:"uploadId"`
	UploadKey          string      `json:"uploadKey"`
	FileName           string      `json:"fileName"`
	Phase              ImportPhase `json:"phase"`
	Progress           Progress    `json:"progress"`
	Timestamp          int64       `json:"timestamp"`
	IsUploading        bool        `json:"isUploading"`
	CanResume          bool        `json:"canResume"`
	BatchSize          int         `json:"batchSize"`
	LastCompletedBatch int         `json:"lastCompletedBatch"`
}

// UpdatedAt returns Timestamp (unix milliseconds) as a time.
func (s ImportRunState) UpdatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// NextBatch is the first batch index a resumed run has to process.
func (s ImportRunState) NextBatch() int {
	return s.LastCompletedBatch + 1
}
