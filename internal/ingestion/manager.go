package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/derekatbrim/ranger/internal/config"
	"github.com/derekatbrim/ranger/internal/dedup"
	"github.com/derekatbrim/ranger/internal/geocode"
	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/notify"
	"github.com/derekatbrim/ranger/internal/repository"
	"github.com/derekatbrim/ranger/internal/worker"
)

// Manager drives reports through the dedup engine: a worker pool resolves
// them, a feed poller pulls new reports from the upstream extraction feed,
// and a pending sweeper re-submits reports that failed or lost a write race.
// The sweep is also what collapses near-simultaneous duplicate incidents'
// trailing reports onto whichever incident landed first.
type Manager struct {
	cfg         *config.Config
	store       repository.Store
	engine      *dedup.Engine
	broadcaster *notify.Broadcaster
	geocoder    geocode.Geocoder
	pool        *worker.Pool
	wg          sync.WaitGroup
}

func NewManager(cfg *config.Config, store repository.Store, engine *dedup.Engine, broadcaster *notify.Broadcaster, geocoder geocode.Geocoder) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       store,
		engine:      engine,
		broadcaster: broadcaster,
		geocoder:    geocoder,
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.pool = worker.NewPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, m.process)
	m.pool.Start(ctx)

	if m.cfg.Feed.Enabled {
		m.wg.Add(1)
		go m.runFeedPoller(ctx)
	}

	m.wg.Add(1)
	go m.runPendingSweeper(ctx)
}

// Submit queues a single report for resolution.
func (m *Manager) Submit(report *models.Report) {
	m.pool.Submit(report)
}

func (m *Manager) process(ctx context.Context, report *models.Report) error {
	_, err := m.ResolveNow(ctx, report)
	if errors.Is(err, repository.ErrConflict) {
		slog.Info("resolution lost a write race, leaving report pending", "report_id", report.ID)
		return nil
	}
	return err
}

// ResolveNow resolves a stored report synchronously and publishes the
// resulting lifecycle event. The HTTP intake path uses it to hand a
// MatchResult back to the caller; the worker pool uses it via process.
// Returns a nil result if the report was already resolved by another path.
func (m *Manager) ResolveNow(ctx context.Context, report *models.Report) (*models.MatchResult, error) {
	// The sweeper and direct submission can race; only still-pending
	// reports go through the engine.
	current, err := m.store.GetReport(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ReportStatusPending {
		return nil, nil
	}

	result, err := m.engine.Resolve(ctx, current)
	if err != nil {
		return nil, err
	}

	m.publish(ctx, current, result)
	return result, nil
}

func (m *Manager) publish(ctx context.Context, report *models.Report, result *models.MatchResult) {
	if m.broadcaster == nil {
		return
	}

	incident, err := m.store.GetIncident(ctx, result.IncidentID)
	if err != nil {
		slog.Error("error loading incident for event", "incident_id", result.IncidentID, "error", err)
		return
	}

	kind := notify.EventIncidentCorroborated
	if result.IsNewIncident {
		kind = notify.EventIncidentCreated
	}

	m.broadcaster.Broadcast(notify.Event{
		Kind:     kind,
		Incident: *incident,
		Report:   *report,
		Match:    *result,
		At:       time.Now().UTC(),
	})
}

func (m *Manager) runFeedPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting feed poller", "url", m.cfg.Feed.URL, "interval", m.cfg.Feed.PollInterval)

	ticker := time.NewTicker(m.cfg.Feed.PollInterval)
	defer ticker.Stop()

	// Initial poll
	m.pollFeedOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("feed poller shutting down")
			return
		case <-ticker.C:
			m.pollFeedOnce(ctx)
		}
	}
}

func (m *Manager) pollFeedOnce(ctx context.Context) {
	reports, err := m.pollFeed(ctx, m.cfg.Feed.URL)
	if err != nil {
		slog.Error("feed poll failed", "error", err)
		return
	}

	accepted := 0
	for _, report := range reports {
		if err := m.store.InsertReport(ctx, report); err != nil {
			if errors.Is(err, repository.ErrDuplicateReport) {
				continue // already ingested on an earlier poll
			}
			slog.Error("error storing feed report", "external_id", report.ExternalID, "error", err)
			continue
		}
		m.pool.Submit(report)
		accepted++
	}

	slog.Debug("feed poll complete", "fetched", len(reports), "accepted", accepted)
}

func (m *Manager) runPendingSweeper(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Feed.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pending sweeper shutting down")
			return
		case <-ticker.C:
			pending, err := m.store.ListPendingReports(ctx, m.cfg.Feed.SweepLimit)
			if err != nil {
				slog.Error("error listing pending reports", "error", err)
				continue
			}
			for i := range pending {
				m.pool.Submit(&pending[i])
			}
			if len(pending) > 0 {
				slog.Info("re-submitted pending reports", "count", len(pending))
			}
		}
	}
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("ingestion manager stopped")
}
