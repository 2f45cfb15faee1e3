package models

// MatchResult records one dedup decision. It is returned to the caller and
// never persisted.
type MatchResult struct {
	IncidentID      string  `json:"incident_id"`
	Score           float64 `json:"match_score"`
	DistanceMeters  float64 `json:"distance_meters"`
	TimeDiffMinutes float64 `json:"time_diff_minutes"`
	IsNewIncident   bool    `json:"is_new_incident"`
}
