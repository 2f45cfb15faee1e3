package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/derekatbrim/ranger/internal/config"
	"github.com/derekatbrim/ranger/internal/dedup"
	"github.com/derekatbrim/ranger/internal/geocode"
	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/notify"
	"github.com/derekatbrim/ranger/internal/repository"
	"github.com/derekatbrim/ranger/internal/taxonomy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{Count: 2, BufferSize: 20},
		Feed: config.FeedConfig{
			// Long enough that the sweeper never races direct submission;
			// the sweeper test shortens it.
			SweepInterval: time.Hour,
			SweepLimit:    50,
		},
	}
}

func setupManager(t *testing.T, cfg *config.Config) (*Manager, repository.Store, *notify.Broadcaster) {
	t.Helper()

	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := dedup.NewEngine(store, taxonomy.Default(), dedup.DefaultSettings())
	broadcaster := notify.NewBroadcaster()
	geocoder := geocode.NewCentroidGeocoder(geocode.DefaultCentroids(), "mchenry county")

	return NewManager(cfg, store, engine, broadcaster, geocoder), store, broadcaster
}

func pendingReport(id, externalID string) *models.Report {
	return &models.Report{
		ID:          id,
		ExternalID:  externalID,
		Type:        "shooting",
		Category:    "violent_crime",
		Latitude:    42.2411,
		Longitude:   -88.3162,
		OccurredAt:  time.Date(2024, 1, 15, 2, 31, 0, 0, time.UTC),
		Source:      models.SourceAudio,
		Confidence:  0.7,
		Status:      models.ReportStatusPending,
		CreatedAt:   time.Now().UTC(),
		Description: "Shots fired, 100 block North Main",
	}
}

func TestManager_SubmittedReportGetsResolved(t *testing.T) {
	cfg := testConfig()
	mgr, store, broadcaster := setupManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	_, events := broadcaster.Subscribe()

	mgr.Start(ctx)

	report := pendingReport("r1", "ext1")
	if err := store.InsertReport(ctx, report); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}
	mgr.Submit(report)

	select {
	case ev := <-events:
		if ev.Kind != notify.EventIncidentCreated {
			t.Errorf("expected %s, got %s", notify.EventIncidentCreated, ev.Kind)
		}
		if !ev.Match.IsNewIncident {
			t.Error("expected a new incident for the first report")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resolution event")
	}

	got, err := store.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if got.Status != models.ReportStatusMatched {
		t.Errorf("expected matched status, got %s", got.Status)
	}
	if got.IncidentID == "" {
		t.Error("expected report to carry its incident reference")
	}

	cancel()
	mgr.Stop()
	broadcaster.Close()
}

func TestManager_SweeperPicksUpPendingReports(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.SweepInterval = 20 * time.Millisecond
	mgr, store, broadcaster := setupManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	_, events := broadcaster.Subscribe()

	// Insert before starting: only the sweeper can find this one
	report := pendingReport("r1", "ext1")
	if err := store.InsertReport(ctx, report); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}

	mgr.Start(ctx)

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not resolve the pending report")
	}

	cancel()
	mgr.Stop()
	broadcaster.Close()
}

func TestManager_CorroborationEvent(t *testing.T) {
	cfg := testConfig()
	mgr, store, broadcaster := setupManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	_, events := broadcaster.Subscribe()

	mgr.Start(ctx)

	first := pendingReport("r1", "ext1")
	if err := store.InsertReport(ctx, first); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}
	mgr.Submit(first)

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for creation event")
	}

	second := pendingReport("r2", "ext2")
	second.Latitude = 42.2415
	second.Longitude = -88.3158
	second.OccurredAt = second.OccurredAt.Add(149 * time.Minute)
	second.Source = models.SourceNews
	if err := store.InsertReport(ctx, second); err != nil {
		t.Fatalf("InsertReport failed: %v", err)
	}
	mgr.Submit(second)

	select {
	case ev := <-events:
		if ev.Kind != notify.EventIncidentCorroborated {
			t.Errorf("expected %s, got %s", notify.EventIncidentCorroborated, ev.Kind)
		}
		if ev.Incident.ReportCount != 2 {
			t.Errorf("expected report_count 2 in event, got %d", ev.Incident.ReportCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for corroboration event")
	}

	cancel()
	mgr.Stop()
	broadcaster.Close()
}

func TestManager_FeedPollIngestsReports(t *testing.T) {
	feedJSON := `{"reports": [
		{"external_id": "abc123", "type": "shooting", "category": "violent_crime",
		 "latitude": 42.2411, "longitude": -88.3162,
		 "occurred_at": "2024-01-15T02:31:00Z", "source": "audio", "confidence": 0.7,
		 "description": "Shots fired, 100 block North Main"},
		{"external_id": "def456", "type": "burglary", "category": "property_crime",
		 "occurred_at": "2024-01-15T03:00:00Z", "source": "news", "confidence": 0.85,
		 "city": "Cary", "description": "Burglary reported at Cary residence"}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedJSON))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Feed.URL = srv.URL
	mgr, store, broadcaster := setupManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	mgr.pollFeedOnce(ctx)

	// Second poll must not duplicate: same external ids
	mgr.pollFeedOnce(ctx)

	deadline := time.After(2 * time.Second)
	for {
		incidents, err := store.ListIncidents(ctx, repository.Filter{})
		if err != nil {
			t.Fatalf("ListIncidents failed: %v", err)
		}
		if len(incidents) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 incidents, got %d", len(incidents))
		case <-time.After(20 * time.Millisecond):
		}
	}

	// The Cary entry had no coordinates: centroid tier must have placed it
	// and discounted its confidence.
	incidents, _ := store.ListIncidents(ctx, repository.Filter{})
	for _, inc := range incidents {
		if inc.Type == "burglary" {
			if inc.Latitude != 42.2120 || inc.Longitude != -88.2378 {
				t.Errorf("expected Cary centroid, got %f, %f", inc.Latitude, inc.Longitude)
			}
			if inc.Confidence > 0.3 {
				t.Errorf("expected geocode-discounted confidence, got %f", inc.Confidence)
			}
		}
	}

	cancel()
	mgr.Stop()
	broadcaster.Close()
}
