package dedup

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/taxonomy"
)

// latOffsetForMeters converts a meridian distance to a latitude offset, so
// tests can place candidates at near-exact distances.
func latOffsetForMeters(meters float64) float64 {
	return meters / 6371000.0 * 180 / math.Pi
}

func testReport(lat, lon float64, occurredAt time.Time, source models.SourceKind) *models.Report {
	return &models.Report{
		ID:         "r1",
		Type:       "shooting",
		Category:   "violent_crime",
		Latitude:   lat,
		Longitude:  lon,
		OccurredAt: occurredAt,
		Source:     source,
		Confidence: 0.7,
	}
}

func testIncident(lat, lon float64, occurredAt time.Time, sources ...models.SourceKind) *models.Incident {
	return &models.Incident{
		ID:          "i1",
		Type:        "shooting",
		Category:    "violent_crime",
		Latitude:    lat,
		Longitude:   lon,
		OccurredAt:  occurredAt,
		ReportCount: 1,
		Confidence:  0.7,
		SourceKinds: sources,
	}
}

func TestScore_DistanceAtThreshold(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	now := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	// Just inside 300m along the meridian: distanceScore collapses to ~0
	// but the other components survive.
	report := testReport(42.2411, -88.3162, now, models.SourceNews)
	candidate := testIncident(42.2411+latOffsetForMeters(299.999), -88.3162, now, models.SourceAudio)

	score, distance, timeDiff := Score(settings, table, report, candidate)

	assert.InDelta(t, 300, distance, 0.01)
	assert.InDelta(t, 0, timeDiff, 1e-9)
	// distanceScore ~0, timeScore 1, typeScore 1, sourceScore 1
	assert.InDelta(t, 0.35+0.20+0.10, score, 1e-3)
}

func TestScore_BeyondDistanceThreshold(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	now := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	report := testReport(42.2411, -88.3162, now, models.SourceNews)
	candidate := testIncident(42.2611, -88.2962, now, models.SourceAudio) // ~2km away

	score, distance, timeDiff := Score(settings, table, report, candidate)

	assert.Zero(t, score, "score must be forced to 0 beyond the radius")
	assert.Greater(t, distance, 300.0)
	assert.True(t, math.IsInf(timeDiff, 1), "time diff sentinel must be +Inf on spatial rejection")
}

func TestScore_TimeAtThreshold(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	base := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	report := testReport(42.2411, -88.3162, base.Add(180*time.Minute), models.SourceNews)
	candidate := testIncident(42.2411, -88.3162, base, models.SourceAudio)

	score, _, timeDiff := Score(settings, table, report, candidate)

	assert.InDelta(t, 180, timeDiff, 1e-9)
	// timeScore 0, distanceScore 1, typeScore 1, sourceScore 1
	assert.InDelta(t, 0.35+0.20+0.10, score, 1e-9)
}

func TestScore_BeyondTimeThreshold(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	base := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	// 209 minutes apart, well inside the radius
	report := testReport(42.2415, -88.3158, base.Add(209*time.Minute), models.SourceNews)
	candidate := testIncident(42.2411, -88.3162, base, models.SourceAudio)

	score, distance, timeDiff := Score(settings, table, report, candidate)

	assert.Zero(t, score, "score must be forced to 0 beyond the window")
	assert.InDelta(t, 209, timeDiff, 1e-9)
	// Distance is still the true value, not a sentinel
	assert.Greater(t, distance, 0.0)
	assert.Less(t, distance, 300.0)
}

func TestScore_CorroboratingNewsReport(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	base := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	// News report ~52m away, 149 minutes later, new source kind
	report := testReport(42.2415, -88.3158, base.Add(149*time.Minute), models.SourceNews)
	candidate := testIncident(42.2411, -88.3162, base, models.SourceAudio)

	score, distance, timeDiff := Score(settings, table, report, candidate)

	assert.InDelta(t, 52, distance, 10)
	assert.InDelta(t, 149, timeDiff, 1e-9)
	assert.InDelta(t, 0.65, score, 0.02)
	assert.GreaterOrEqual(t, score, settings.MatchThreshold)
}

func TestScore_SourceDiversity(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	now := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	report := testReport(42.2411, -88.3162, now, models.SourceAudio)

	fresh := testIncident(42.2411, -88.3162, now, models.SourceNews)
	repeat := testIncident(42.2411, -88.3162, now, models.SourceAudio)

	freshScore, _, _ := Score(settings, table, report, fresh)
	repeatScore, _, _ := Score(settings, table, report, repeat)

	assert.InDelta(t, settings.WeightSource, freshScore-repeatScore, 1e-9,
		"a new source kind should be worth exactly the diversity weight")
}

func TestScore_TypeGroupMatch(t *testing.T) {
	settings := DefaultSettings()
	table := taxonomy.Default()
	now := time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC)

	report := testReport(42.2411, -88.3162, now, models.SourceNews)
	report.Type = "stabbing"
	candidate := testIncident(42.2411, -88.3162, now, models.SourceAudio)

	score, _, _ := Score(settings, table, report, candidate)

	// Same group scores half the type weight
	assert.InDelta(t, 0.35+0.35+0.10+0.10, score, 1e-9)
}
