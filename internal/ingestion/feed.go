package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/derekatbrim/ranger/internal/models"
)

// The feed is the output of the upstream extraction service: already-typed
// incident reports, one entry per extracted incident. external_id is the
// extractor's content hash and makes re-polls idempotent.
type feedResponse struct {
	Reports []feedReport `json:"reports"`
}

type feedReport struct {
	ExternalID  string  `json:"external_id"`
	Type        string  `json:"type"`
	Category    string  `json:"category"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	OccurredAt  string  `json:"occurred_at"` // RFC3339
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
}

func (m *Manager) pollFeed(ctx context.Context, url string) ([]*models.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	reports := make([]*models.Report, 0, len(data.Reports))
	for _, item := range data.Reports {
		report, err := m.feedReportToModel(ctx, item)
		if err != nil {
			// One bad feed entry must not sink the rest of the poll
			continue
		}
		reports = append(reports, report)
	}

	return reports, nil
}

func (m *Manager) feedReportToModel(ctx context.Context, item feedReport) (*models.Report, error) {
	occurredAt, err := time.Parse(time.RFC3339, item.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("error parsing occurred_at %q: %w", item.OccurredAt, err)
	}

	report := &models.Report{
		ID:          uuid.NewString(),
		ExternalID:  item.ExternalID,
		Type:        item.Type,
		Category:    item.Category,
		Latitude:    item.Latitude,
		Longitude:   item.Longitude,
		OccurredAt:  occurredAt,
		Source:      models.SourceKind(item.Source),
		Confidence:  item.Confidence,
		Description: item.Description,
		Status:      models.ReportStatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	// Entries without coordinates fall back to the geocoding boundary; the
	// tier discounts the extraction confidence before the engine ever sees
	// the report.
	if report.Latitude == 0 && report.Longitude == 0 && m.geocoder != nil {
		loc, err := m.geocoder.Resolve(ctx, item.Address, item.City)
		if err != nil {
			return nil, fmt.Errorf("feed entry %s has no location: %w", item.ExternalID, err)
		}
		report.Latitude = loc.Latitude
		report.Longitude = loc.Longitude
		report.Confidence *= loc.Confidence
	}

	if err := report.Validate(); err != nil {
		return nil, err
	}
	return report, nil
}
