package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/derekatbrim/ranger/internal/geo"
	"github.com/derekatbrim/ranger/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteStore{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			incident_type TEXT NOT NULL,
			category TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			occurred_at DATETIME NOT NULL,
			description TEXT,
			report_count INTEGER NOT NULL DEFAULT 1,
			confidence REAL NOT NULL,
			source_kinds TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			external_id TEXT,
			incident_id TEXT REFERENCES incidents(id),
			incident_type TEXT NOT NULL,
			category TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			occurred_at DATETIME NOT NULL,
			source_kind TEXT NOT NULL,
			confidence REAL NOT NULL,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			processed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_occurred_at ON incidents(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_incidents_lat_lon ON incidents(latitude, longitude);
		CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
		CREATE INDEX IF NOT EXISTS idx_reports_incident_id ON reports(incident_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_external_id ON reports(external_id) WHERE external_id != '';
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertIncident writes a bare incident row. The engine founds incidents
// through CreateIncident; this is the seeding primitive underneath it.
func (s *SQLiteStore) InsertIncident(ctx context.Context, incident *models.Incident) error {
	kinds, err := marshalKinds(incident.SourceKinds)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, incident_type, category, latitude, longitude, occurred_at, description, report_count, confidence, source_kinds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.Type, incident.Category, incident.Latitude, incident.Longitude,
		incident.OccurredAt.UTC(), incident.Description, incident.ReportCount, incident.Confidence,
		kinds, incident.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting incident: %w", err)
	}
	return nil
}

// CreateIncident inserts the incident and links its founding report in a
// single transaction: a failed link rolls the incident back, so the pending
// sweeper can never corroborate a report against its own incident.
func (s *SQLiteStore) CreateIncident(ctx context.Context, incident *models.Incident, foundingReportID string) error {
	kinds, err := marshalKinds(incident.SourceKinds)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (id, incident_type, category, latitude, longitude, occurred_at, description, report_count, confidence, source_kinds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.Type, incident.Category, incident.Latitude, incident.Longitude,
		incident.OccurredAt.UTC(), incident.Description, incident.ReportCount, incident.Confidence,
		kinds, incident.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting incident: %w", err)
	}

	if err := linkReportTx(ctx, tx, foundingReportID, incident.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing incident: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_type, category, latitude, longitude, occurred_at, description, report_count, confidence, source_kinds, created_at
		FROM incidents WHERE id = ?`, id)

	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching incident: %w", err)
	}
	return incident, nil
}

// QueryCandidates prefilters with a bounding box in SQL, then applies the
// exact haversine distance in Go. The box is always a superset of the radius
// circle, so the prefilter can't drop a true candidate.
func (s *SQLiteStore) QueryCandidates(ctx context.Context, lat, lon, radiusMeters float64, center time.Time, window time.Duration, excludeIDs []string) ([]models.Incident, error) {
	const metersPerDegreeLat = 111320.0

	latDelta := radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01 // near the poles every longitude is close
	}
	lonDelta := radiusMeters / (metersPerDegreeLat * cosLat)

	query := `
		SELECT id, incident_type, category, latitude, longitude, occurred_at, description, report_count, confidence, source_kinds, created_at
		FROM incidents
		WHERE occurred_at BETWEEN ? AND ?
		  AND latitude BETWEEN ? AND ?`
	args := []any{
		center.Add(-window).UTC(), center.Add(window).UTC(),
		lat - latDelta, lat + latDelta,
	}

	// The box wraps at the antimeridian: a range spilling past ±180 splits
	// into two, so a candidate just across the seam is still returned.
	lonMin, lonMax := lon-lonDelta, lon+lonDelta
	switch {
	case lonMin < -180:
		query += " AND (longitude BETWEEN ? AND 180 OR longitude BETWEEN -180 AND ?)"
		args = append(args, lonMin+360, lonMax)
	case lonMax > 180:
		query += " AND (longitude BETWEEN ? AND 180 OR longitude BETWEEN -180 AND ?)"
		args = append(args, lonMin, lonMax-360)
	default:
		query += " AND longitude BETWEEN ? AND ?"
		args = append(args, lonMin, lonMax)
	}

	if len(excludeIDs) > 0 {
		query += " AND id NOT IN (?" + strings.Repeat(", ?", len(excludeIDs)-1) + ")"
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}

	query += " ORDER BY occurred_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning candidate: %w", err)
		}
		if geo.DistanceMeters(lat, lon, incident.Latitude, incident.Longitude) <= radiusMeters {
			candidates = append(candidates, *incident)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// CorroborateIncident updates the aggregate and links the report in one
// transaction. The aggregate write is optimistic on report_count; a stale
// expectedCount rolls everything back with ErrConflict, and a failed link
// rolls the aggregate back too.
func (s *SQLiteStore) CorroborateIncident(ctx context.Context, id string, expectedCount, newCount int, confidence float64, kinds []models.SourceKind, reportID string) error {
	encoded, err := marshalKinds(kinds)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET report_count = ?, confidence = ?, source_kinds = ?
		WHERE id = ? AND report_count = ?`,
		newCount, confidence, encoded, id, expectedCount,
	)
	if err != nil {
		return fmt.Errorf("error updating incident aggregate: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing incident, on this
		// transaction's connection
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("error checking incident: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("incident %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("incident %s: %w", id, ErrConflict)
	}

	if err := linkReportTx(ctx, tx, reportID, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing corroboration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, opts Filter) ([]models.Incident, error) {
	query := `
		SELECT id, incident_type, category, latitude, longitude, occurred_at, description, report_count, confidence, source_kinds, created_at
		FROM incidents WHERE 1=1`
	var args []any

	if opts.Since != nil {
		query += " AND occurred_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.Category != nil {
		query += " AND category = ?"
		args = append(args, *opts.Category)
	}
	if opts.Type != nil {
		query += " AND incident_type = ?"
		args = append(args, *opts.Type)
	}
	if opts.MinConfidence != nil {
		query += " AND confidence >= ?"
		args = append(args, *opts.MinConfidence)
	}
	if opts.MinReports != nil {
		query += " AND report_count >= ?"
		args = append(args, *opts.MinReports)
	}

	query += " ORDER BY occurred_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning incident: %w", err)
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

func (s *SQLiteStore) InsertReport(ctx context.Context, report *models.Report) error {
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, external_id, incident_id, incident_type, category, latitude, longitude, occurred_at, source_kind, confidence, description, status, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.ExternalID, report.IncidentID, report.Type, report.Category,
		report.Latitude, report.Longitude, report.OccurredAt.UTC(), string(report.Source),
		report.Confidence, report.Description, string(report.Status), report.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("report %s: %w", report.ExternalID, ErrDuplicateReport)
		}
		return fmt.Errorf("error inserting report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx, reportColumns+" FROM reports WHERE id = ?", id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching report: %w", err)
	}
	return report, nil
}

// linkReportTx transitions a report from pending to matched inside the
// caller's transaction.
func linkReportTx(ctx context.Context, tx *sql.Tx, reportID, incidentID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE reports SET incident_id = ?, status = ?, processed_at = ?
		WHERE id = ?`,
		incidentID, string(models.ReportStatusMatched), time.Now().UTC(), reportID,
	)
	if err != nil {
		return fmt.Errorf("error linking report: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListReportsByIncident(ctx context.Context, incidentID string) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, reportColumns+" FROM reports WHERE incident_id = ? ORDER BY occurred_at ASC, id ASC", incidentID)
	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

func (s *SQLiteStore) ListPendingReports(ctx context.Context, limit int) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, reportColumns+" FROM reports WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?",
		string(models.ReportStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing pending reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

const reportColumns = `
	SELECT id, COALESCE(external_id, ''), COALESCE(incident_id, ''), incident_type, category, latitude, longitude, occurred_at, source_kind, confidence, description, status, created_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var incident models.Incident
	var kinds string

	err := row.Scan(
		&incident.ID, &incident.Type, &incident.Category, &incident.Latitude, &incident.Longitude,
		&incident.OccurredAt, &incident.Description, &incident.ReportCount, &incident.Confidence,
		&kinds, &incident.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(kinds), &incident.SourceKinds); err != nil {
		return nil, fmt.Errorf("error decoding source kinds: %w", err)
	}
	return &incident, nil
}

func scanReport(row rowScanner) (*models.Report, error) {
	var report models.Report
	var source, status string
	var processedAt sql.NullTime

	err := row.Scan(
		&report.ID, &report.ExternalID, &report.IncidentID, &report.Type, &report.Category,
		&report.Latitude, &report.Longitude, &report.OccurredAt, &source, &report.Confidence,
		&report.Description, &status, &report.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	report.Source = models.SourceKind(source)
	report.Status = models.ReportStatus(status)
	if processedAt.Valid {
		report.ProcessedAt = &processedAt.Time
	}
	return &report, nil
}

func collectReports(rows *sql.Rows) ([]models.Report, error) {
	var reports []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning report: %w", err)
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

func marshalKinds(kinds []models.SourceKind) (string, error) {
	if kinds == nil {
		kinds = []models.SourceKind{}
	}
	encoded, err := json.Marshal(kinds)
	if err != nil {
		return "", fmt.Errorf("error encoding source kinds: %w", err)
	}
	return string(encoded), nil
}
