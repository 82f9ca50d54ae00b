package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrImportInProgress  = errors.New("an import is already running for this brand")
	ErrNoResumableRun    = errors.New("no resumable import for this brand")
	ErrInvalidTransition = errors.New("invalid import phase transition")
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrResumableRunPending rejects a fresh import while an interrupted run
	// of the same brand can still be resumed.
	ErrResumableRunPending = errors.New("an interrupted import can be resumed for this brand")
)

// LineError is a structural problem found on one input line.
type LineError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ParseError aborts an import before any write. It carries every line error
// found, not only the first.
type ParseError struct {
	Errors []LineError
}

func (e *ParseError) Error() string {
	if len(e.Errors) == 0 {
		return "parse failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for i, le := range e.Errors {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Errors)-i))
			break
		}
		parts = append(parts, fmt.Sprintf("line %d: %s", le.Line, le.Reason))
	}
	return fmt.Sprintf("parse failed with %d error(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

// BatchReadError means the existence check for a batch failed; the batch was
// abandoned without writes.
type BatchReadError struct {
	Batch int
	Err   error
}

func (e *BatchReadError) Error() string {
	return fmt.Sprintf("batch %d: existence check failed: %v", e.Batch, e.Err)
}

func (e *BatchReadError) Unwrap() error { return e.Err }

// Write stages reported in BatchWriteError.
const (
	StageRead           = "read"
	StageInsert         = "insert"
	StageUpdate         = "update"
	StageVariantRead    = "variant_read"
	StageVariantInsert  = "variant_insert"
	StageVariantUpdate  = "variant_update"
	StageParse          = "parse"
	StageSkip           = "skip"
	StageOrphanVariants = "orphan_variants"
)

// BatchWriteError means a bulk write for a batch failed. Later steps of that
// batch were skipped.
type BatchWriteError struct {
	Batch int
	Stage string
	Err   error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch %d: %s failed: %v", e.Batch, e.Stage, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }
