package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/empowerher/riskgrid/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS incidents (
	id         TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	date       TEXT NOT NULL DEFAULT '',
	time       TEXT NOT NULL DEFAULT '',
	severity   INTEGER NOT NULL,
	station    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS artifacts (
	kind       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	blob       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feedback (
	id         TEXT PRIMARY KEY,
	incident   TEXT NOT NULL,
	verdict    TEXT NOT NULL,
	processed  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_incidents_category ON incidents(category);
CREATE INDEX IF NOT EXISTS idx_feedback_pending ON feedback(processed, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertIncidents upserts incidents by id in a single transaction.
func (s *SQLiteStore) InsertIncidents(ctx context.Context, incidents []model.Incident) (int, error) {
	if len(incidents) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert incidents")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incidents (id, category, location, latitude, longitude, date, time, severity, station)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category, location = excluded.location,
			latitude = excluded.latitude, longitude = excluded.longitude,
			date = excluded.date, time = excluded.time,
			severity = excluded.severity, station = excluded.station`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert incident")
	}
	defer stmt.Close() //nolint:errcheck

	for _, inc := range incidents {
		if _, err := stmt.ExecContext(ctx, incidentArgs(inc)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert incident %s", inc.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert incidents")
	}
	return len(incidents), nil
}

// ListIncidents returns incidents ordered by id.
func (s *SQLiteStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	query := `SELECT id, category, location, latitude, longitude, date, time, severity, station FROM incidents WHERE 1=1`
	var args []any

	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.MinSeverity > 0 {
		query += ` AND severity >= ?`
		args = append(args, filter.MinSeverity)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list incidents")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident")
		}
		out = append(out, inc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list incidents iterate")
}

func (s *SQLiteStore) CountIncidents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count incidents")
}

// SaveArtifact replaces the stored artifact of the given kind.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, kind string, blob []byte) (*Artifact, error) {
	a := &Artifact{ID: uuid.New().String(), Kind: kind, Blob: blob, CreatedAt: time.Now().UTC()}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (kind, id, blob, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET id = excluded.id, blob = excluded.blob, created_at = excluded.created_at`,
		a.Kind, a.ID, a.Blob, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save artifact %s", kind)
	}
	return a, nil
}

// LoadArtifact returns nil when no artifact of the kind exists.
func (s *SQLiteStore) LoadArtifact(ctx context.Context, kind string) (*Artifact, error) {
	var a Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, blob, created_at FROM artifacts WHERE kind = ?`, kind,
	).Scan(&a.ID, &a.Kind, &a.Blob, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load artifact %s", kind)
	}
	return &a, nil
}

func (s *SQLiteStore) RecordFeedback(ctx context.Context, inc model.Incident, verdict model.Verdict) (*model.Feedback, error) {
	if err := validVerdict(verdict); err != nil {
		return nil, err
	}
	incJSON, err := json.Marshal(inc)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal feedback incident")
	}

	fb := &model.Feedback{
		ID:        uuid.New().String(),
		Incident:  inc,
		Verdict:   verdict,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, incident, verdict, processed, created_at) VALUES (?, ?, ?, 0, ?)`,
		fb.ID, string(incJSON), string(fb.Verdict), fb.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert feedback")
	}
	return fb, nil
}

// PendingFeedback returns unprocessed feedback, oldest first.
func (s *SQLiteStore) PendingFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident, verdict, processed, created_at FROM feedback
		 WHERE processed = 0 ORDER BY created_at, id LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending feedback")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Feedback
	for rows.Next() {
		var (
			fb      model.Feedback
			incJSON string
		)
		if err := rows.Scan(&fb.ID, &incJSON, &fb.Verdict, &fb.Processed, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		if err := json.Unmarshal([]byte(incJSON), &fb.Incident); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal feedback %s", fb.ID)
		}
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: pending feedback iterate")
}

func (s *SQLiteStore) MarkFeedbackProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback SET processed = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark feedback processed")
	}
	return checkRowsAffected(res, "feedback", strings.Join(ids, ","))
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanIncident(row scannable) (model.Incident, error) {
	var inc model.Incident
	err := row.Scan(&inc.ID, &inc.Category, &inc.Location, &inc.Latitude, &inc.Longitude,
		&inc.Date, &inc.Time, &inc.Severity, &inc.Station)
	return inc, err
}

func incidentArgs(inc model.Incident) []any {
	return []any{inc.ID, inc.Category, inc.Location, inc.Latitude, inc.Longitude,
		inc.Date, inc.Time, inc.Severity, inc.Station}
}
