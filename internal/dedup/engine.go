// Package dedup resolves incoming incident reports against canonical
// incidents: the same real-world event is commonly reported several times (a
// scanner dispatch, a later news article, a citizen tip) with slightly
// different coordinates, timestamps and wording.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/repository"
	"github.com/derekatbrim/ranger/internal/taxonomy"
)

// Engine owns the locate → score → decide → (create | link) pipeline.
//
// Unrelated reports may be resolved concurrently; writers to the same
// incident aggregate are serialized by a per-incident mutex, and the store's
// optimistic report_count check guards against writers outside this process.
// Two concurrent reports for a brand-new event can still each create an
// incident; that gap is accepted and closes on a later cycle once one of the
// incidents is visible as a candidate.
type Engine struct {
	store    repository.Store
	table    taxonomy.Table
	settings Settings
	locks    *keyedMutex
}

func NewEngine(store repository.Store, table taxonomy.Table, settings Settings) *Engine {
	return &Engine{
		store:    store,
		table:    table,
		settings: settings,
		locks:    newKeyedMutex(),
	}
}

// Resolve decides whether report corroborates an existing canonical incident
// or founds a new one.
//
// A store failure during candidate lookup fails the whole resolution: it is
// never collapsed into "no candidates", because that would mint a duplicate
// incident for an event the store already knows about. Only a successful
// empty lookup creates a new incident.
func (e *Engine) Resolve(ctx context.Context, report *models.Report) (*models.MatchResult, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	candidates, err := e.store.QueryCandidates(ctx,
		report.Latitude, report.Longitude, e.settings.RadiusMeters,
		report.OccurredAt, e.settings.TimeWindow, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("dedup: candidate lookup failed: %w", err)
	}

	if len(candidates) == 0 {
		incident, err := e.createIncident(ctx, report)
		if err != nil {
			return nil, err
		}
		return &models.MatchResult{
			IncidentID:    incident.ID,
			IsNewIncident: true,
		}, nil
	}

	// Candidates arrive in stable order (occurrence time, then id) and the
	// comparison is strict, so the earliest candidate wins score ties.
	var best *models.Incident
	var bestScore, bestDistance, bestTimeDiff float64

	for i := range candidates {
		score, distance, timeDiff := Score(e.settings, e.table, report, &candidates[i])
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
			bestDistance = distance
			bestTimeDiff = timeDiff
		}
	}

	if best != nil && bestScore >= e.settings.MatchThreshold {
		if err := e.linkReport(ctx, best.ID, report); err != nil {
			return nil, err
		}

		slog.Info("report corroborates incident",
			"report_id", report.ID, "incident_id", best.ID,
			"score", bestScore, "distance_m", bestDistance, "time_diff_min", bestTimeDiff)

		return &models.MatchResult{
			IncidentID:      best.ID,
			Score:           bestScore,
			DistanceMeters:  bestDistance,
			TimeDiffMinutes: bestTimeDiff,
			IsNewIncident:   false,
		}, nil
	}

	// Best score below threshold: new incident, but keep the losing score
	// and distances for observability.
	incident, err := e.createIncident(ctx, report)
	if err != nil {
		return nil, err
	}
	return &models.MatchResult{
		IncidentID:      incident.ID,
		Score:           bestScore,
		DistanceMeters:  bestDistance,
		TimeDiffMinutes: bestTimeDiff,
		IsNewIncident:   true,
	}, nil
}

// createIncident founds a canonical incident from report. Representative
// fields are copied verbatim; they are not recomputed as reports accumulate.
func (e *Engine) createIncident(ctx context.Context, report *models.Report) (*models.Incident, error) {
	incident := &models.Incident{
		ID:          uuid.NewString(),
		Type:        report.Type,
		Category:    report.Category,
		Latitude:    report.Latitude,
		Longitude:   report.Longitude,
		OccurredAt:  report.OccurredAt,
		Description: report.Description,
		ReportCount: 1,
		Confidence:  report.Confidence,
		SourceKinds: []models.SourceKind{report.Source},
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.store.CreateIncident(ctx, incident, report.ID); err != nil {
		return nil, fmt.Errorf("dedup: creating incident: %w", err)
	}

	slog.Info("created incident",
		"incident_id", incident.ID, "type", incident.Type, "source", report.Source)

	return incident, nil
}

const (
	confidenceCeiling   = 0.99
	corroborationFactor = 0.15
	newSourceConfidence = 0.10
)

// linkReport attaches a corroborating report to an incident and recomputes
// the aggregate under the incident's lock. Confidence gains shrink as it
// approaches the ceiling: repeated corroboration keeps adding less. The
// aggregate write and the report link commit together; a failure leaves the
// incident untouched and the report pending for the sweeper.
func (e *Engine) linkReport(ctx context.Context, incidentID string, report *models.Report) error {
	unlock := e.locks.Lock(incidentID)
	defer unlock()

	incident, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("dedup: reading incident for link: %w", err)
	}

	sourceBonus := 0.0
	if !incident.HasSource(report.Source) {
		sourceBonus = newSourceConfidence
	}
	confidence := math.Min(confidenceCeiling,
		incident.Confidence+(1-incident.Confidence)*corroborationFactor+sourceBonus)

	incident.AddSource(report.Source)

	err = e.store.CorroborateIncident(ctx, incidentID,
		incident.ReportCount, incident.ReportCount+1, confidence, incident.SourceKinds, report.ID)
	if err != nil {
		return fmt.Errorf("dedup: corroborating incident: %w", err)
	}
	return nil
}
