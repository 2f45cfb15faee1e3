package api

import (
	"github.com/derekatbrim/ranger/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(incidents []models.Incident) FeatureCollection {
	features := make([]Feature, 0, len(incidents))

	for _, inc := range incidents {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{inc.Longitude, inc.Latitude},
			},
			Properties: map[string]any{
				"id":           inc.ID,
				"type":         inc.Type,
				"category":     inc.Category,
				"description":  inc.Description,
				"occurred_at":  inc.OccurredAt,
				"report_count": inc.ReportCount,
				"confidence":   inc.Confidence,
				"sources":      inc.SourceKinds, // provenance badges
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
