package repository

import (
	"context"
	"errors"
	"time"

	"github.com/derekatbrim/ranger/internal/models"
)

var (
	// ErrNotFound means the requested incident or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent writer updated the incident aggregate
	// first. The caller should re-run resolution for the report.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrDuplicateReport means a report with the same external id was
	// already ingested.
	ErrDuplicateReport = errors.New("duplicate report")
)

// Filter narrows ListIncidents results.
type Filter struct {
	Limit         int
	Since         *time.Time
	Category      *string
	Type          *string
	MinConfidence *float64
	MinReports    *int
}

// IncidentStore is the canonical-incident side of the store. QueryCandidates
// must return every incident within both the spatial radius and the temporal
// window (no false negatives), in a stable order: ascending occurrence time,
// then ascending id. The dedup engine's first-seen tie-break depends on that
// order being deterministic.
type IncidentStore interface {
	QueryCandidates(ctx context.Context, lat, lon, radiusMeters float64, center time.Time, window time.Duration, excludeIDs []string) ([]models.Incident, error)
	// CreateIncident inserts the incident and links its founding report
	// (pending to matched) in one atomic operation. On failure neither the
	// incident nor the link is written.
	CreateIncident(ctx context.Context, incident *models.Incident, foundingReportID string) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	// CorroborateIncident persists a recomputed aggregate and links the
	// corroborating report in one atomic operation. expectedCount is the
	// report_count the caller read; if the row has moved on, the call fails
	// with ErrConflict. On any failure neither side is written, so a
	// re-resolved report can never double-count.
	CorroborateIncident(ctx context.Context, id string, expectedCount, newCount int, confidence float64, kinds []models.SourceKind, reportID string) error
	ListIncidents(ctx context.Context, opts Filter) ([]models.Incident, error)
}

// ReportStore is the report side of the store. Reports are retained
// individually even after linking.
type ReportStore interface {
	InsertReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ListReportsByIncident(ctx context.Context, incidentID string) ([]models.Report, error)
	ListPendingReports(ctx context.Context, limit int) ([]models.Report, error)
}

// Store is the full persistence boundary the engine and API depend on.
type Store interface {
	IncidentStore
	ReportStore
}
