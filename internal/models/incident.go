package models

import "time"

// Incident is a canonical, deduplicated real-world event. Representative
// fields (type, coordinates, time, description) come from the founding report
// and are never re-derived; corroborating reports only grow the aggregate
// fields (ReportCount, Confidence, SourceKinds).
type Incident struct {
	ID          string
	Type        string
	Category    string
	Latitude    float64
	Longitude   float64
	OccurredAt  time.Time
	Description string
	ReportCount int
	Confidence  float64
	SourceKinds []SourceKind // distinct kinds observed, for provenance badges
	CreatedAt   time.Time
}

// HasSource reports whether kind has already corroborated this incident.
func (i *Incident) HasSource(kind SourceKind) bool {
	for _, k := range i.SourceKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// AddSource appends kind if absent, preserving set semantics.
func (i *Incident) AddSource(kind SourceKind) {
	if !i.HasSource(kind) {
		i.SourceKinds = append(i.SourceKinds, kind)
	}
}
