package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/db"
	"github.com/empowerher/riskgrid/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlSelectIncidents = `SELECT id, category, location, latitude, longitude, date, time, severity, station FROM incidents`
	sqlCountIncidents  = `SELECT COUNT(*) FROM incidents`
	sqlSaveArtifact    = `INSERT INTO artifacts (kind, id, blob, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind) DO UPDATE SET id = EXCLUDED.id, blob = EXCLUDED.blob, created_at = EXCLUDED.created_at`
	sqlLoadArtifact    = `SELECT id, kind, blob, created_at FROM artifacts WHERE kind = $1`
	sqlInsertFeedback  = `INSERT INTO feedback (id, incident, verdict, processed, created_at) VALUES ($1, $2, $3, false, $4)`
	sqlPendingFeedback = `SELECT id, incident, verdict, processed, created_at FROM feedback WHERE NOT processed ORDER BY created_at, id LIMIT $1`
	sqlMarkProcessed   = `UPDATE feedback SET processed = true WHERE id = ANY($1)`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"count_incidents":  sqlCountIncidents,
	"save_artifact":    sqlSaveArtifact,
	"load_artifact":    sqlLoadArtifact,
	"insert_feedback":  sqlInsertFeedback,
	"pending_feedback": sqlPendingFeedback,
	"mark_processed":   sqlMarkProcessed,
}

// incidentColumns is the COPY column order; it matches incidentArgs.
var incidentColumns = []string{
	"id", "category", "location", "latitude", "longitude", "date", "time", "severity", "station",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS incidents (
	id         TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	date       TEXT NOT NULL DEFAULT '',
	time       TEXT NOT NULL DEFAULT '',
	severity   INTEGER NOT NULL CHECK (severity BETWEEN 1 AND 5),
	station    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	kind       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	blob       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	incident   JSONB NOT NULL,
	verdict    TEXT NOT NULL,
	processed  BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_incidents_category ON incidents(category);
CREATE INDEX IF NOT EXISTS idx_feedback_pending ON feedback(created_at) WHERE NOT processed;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertIncidents upserts incidents by id through a COPY-staged merge.
func (s *PostgresStore) InsertIncidents(ctx context.Context, incidents []model.Incident) (int, error) {
	rows := make([][]any, len(incidents))
	for i, inc := range incidents {
		rows[i] = incidentArgs(inc)
	}
	n, err := db.Upsert(ctx, s.pool, db.UpsertConfig{
		Table:        "incidents",
		Columns:      incidentColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert incidents")
	}
	return int(n), nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error) {
	query := sqlSelectIncidents + ` WHERE ($1 = '' OR category = $1) AND severity >= $2 ORDER BY id`
	args := []any{filter.Category, filter.MinSeverity}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident")
		}
		out = append(out, inc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list incidents iterate")
}

func (s *PostgresStore) CountIncidents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, sqlCountIncidents).Scan(&n)
	return n, eris.Wrap(err, "postgres: count incidents")
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, kind string, blob []byte) (*Artifact, error) {
	a := &Artifact{ID: uuid.New().String(), Kind: kind, Blob: blob, CreatedAt: time.Now().UTC()}
	if _, err := s.pool.Exec(ctx, sqlSaveArtifact, a.Kind, a.ID, a.Blob, a.CreatedAt); err != nil {
		return nil, eris.Wrapf(err, "postgres: save artifact %s", kind)
	}
	return a, nil
}

// LoadArtifact returns nil when no artifact of the kind exists.
func (s *PostgresStore) LoadArtifact(ctx context.Context, kind string) (*Artifact, error) {
	var a Artifact
	err := s.pool.QueryRow(ctx, sqlLoadArtifact, kind).Scan(&a.ID, &a.Kind, &a.Blob, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load artifact %s", kind)
	}
	return &a, nil
}

func (s *PostgresStore) RecordFeedback(ctx context.Context, inc model.Incident, verdict model.Verdict) (*model.Feedback, error) {
	if err := validVerdict(verdict); err != nil {
		return nil, err
	}
	incJSON, err := json.Marshal(inc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal feedback incident")
	}

	fb := &model.Feedback{
		ID:        uuid.New().String(),
		Incident:  inc,
		Verdict:   verdict,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, sqlInsertFeedback, fb.ID, incJSON, string(fb.Verdict), fb.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: insert feedback")
	}
	return fb, nil
}

func (s *PostgresStore) PendingFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	rows, err := s.pool.Query(ctx, sqlPendingFeedback, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var (
			fb      model.Feedback
			verdict string
			incJSON []byte
		)
		if err := rows.Scan(&fb.ID, &incJSON, &verdict, &fb.Processed, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		fb.Verdict = model.Verdict(verdict)
		if err := json.Unmarshal(incJSON, &fb.Incident); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal feedback %s", fb.ID)
		}
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "postgres: pending feedback iterate")
}

func (s *PostgresStore) MarkFeedbackProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx, sqlMarkProcessed, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: mark feedback processed")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("feedback not found: %v", ids)
	}
	return nil
}
