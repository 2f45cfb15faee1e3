package dedup

import (
	"math"
	"time"

	"github.com/derekatbrim/ranger/internal/geo"
	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/taxonomy"
)

// Settings holds the thresholds and weights that govern matching. The values
// come from config at startup, but the struct lives here so the scoring
// algorithm can be unit-tested without importing the config package.
type Settings struct {
	// RadiusMeters is the max distance at which two reports can describe
	// the same incident.
	RadiusMeters float64
	// TimeWindow is the max separation between occurrence times.
	TimeWindow time.Duration
	// MatchThreshold is the minimum combined score required to link a
	// report to an existing incident instead of creating a new one.
	MatchThreshold float64

	// Score weights. Distance and time dominate because they are the most
	// reliable corroborating signals; type is secondary since extraction
	// wording varies; source diversity is a small tie-breaking nudge.
	WeightDistance float64
	WeightTime     float64
	WeightType     float64
	WeightSource   float64
}

func DefaultSettings() Settings {
	return Settings{
		RadiusMeters:   300,
		TimeWindow:     3 * time.Hour,
		MatchThreshold: 0.5,
		WeightDistance: 0.35,
		WeightTime:     0.35,
		WeightType:     0.20,
		WeightSource:   0.10,
	}
}

// Score computes the match score between a report and a candidate incident,
// along with the true distance in meters and time difference in minutes.
//
// Beyond the spatial radius the score is forced to 0 and the time difference
// is reported as +Inf (it is never computed). Beyond the time window the
// score is forced to 0 but both distance and time difference are still real
// values, so callers can log why a candidate was rejected.
func Score(settings Settings, table taxonomy.Table, report *models.Report, candidate *models.Incident) (score, distanceMeters, timeDiffMinutes float64) {
	distance := geo.DistanceMeters(report.Latitude, report.Longitude, candidate.Latitude, candidate.Longitude)
	if distance > settings.RadiusMeters {
		return 0, distance, math.Inf(1)
	}
	distanceScore := 1 - distance/settings.RadiusMeters

	timeDiff := math.Abs(report.OccurredAt.Sub(candidate.OccurredAt).Minutes())
	windowMinutes := settings.TimeWindow.Minutes()
	if timeDiff > windowMinutes {
		return 0, distance, timeDiff
	}
	timeScore := 1 - timeDiff/windowMinutes

	typeScore := table.Similarity(report.Type, candidate.Type)

	// A new channel corroborating the incident is worth more than the same
	// channel repeating itself.
	sourceScore := 0.0
	if !candidate.HasSource(report.Source) {
		sourceScore = 1.0
	}

	score = settings.WeightDistance*distanceScore +
		settings.WeightTime*timeScore +
		settings.WeightType*typeScore +
		settings.WeightSource*sourceScore

	return score, distance, timeDiff
}
