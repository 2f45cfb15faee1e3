package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidReport is wrapped by all report validation failures. Reports that
// fail validation must never reach the dedup engine.
var ErrInvalidReport = errors.New("invalid report")

// SourceKind is the channel a report arrived through.
type SourceKind string

const (
	SourceAudio SourceKind = "audio" // scanner dispatch transcription
	SourceNews  SourceKind = "news"
	SourceAPI   SourceKind = "api" // structured feed
)

// ReportStatus tracks a report's position in the dedup pipeline.
type ReportStatus string

const (
	ReportStatusPending ReportStatus = "pending"
	ReportStatusMatched ReportStatus = "matched"
	// ReportStatusRejected is reserved for reports discarded by a future
	// review flow. Nothing transitions into it yet.
	ReportStatusRejected ReportStatus = "rejected"
)

// Report is a single source's account of an event. Reports are immutable
// inputs to the dedup engine; linking one to an incident only changes its
// status and incident reference, never its content.
type Report struct {
	ID          string
	ExternalID  string // content-derived id from the upstream extractor, for feed idempotency
	IncidentID  string // set once the report is linked to a canonical incident
	Type        string // specific type, e.g. "shooting"
	Category    string // coarse classification, e.g. "violent_crime"
	Latitude    float64
	Longitude   float64
	OccurredAt  time.Time
	Source      SourceKind
	Confidence  float64 // extraction-time estimate, 0..1
	Description string
	Status      ReportStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Validate enforces the engine's input invariants. Out-of-range values are
// rejected, never coerced.
func (r *Report) Validate() error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidReport, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidReport, r.Longitude)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of range", ErrInvalidReport, r.Confidence)
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurrence time", ErrInvalidReport)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: missing incident type", ErrInvalidReport)
	}
	if r.Source == "" {
		return fmt.Errorf("%w: missing source kind", ErrInvalidReport)
	}
	return nil
}
