// Package store persists incidents, fitted artifacts and user feedback.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/config"
	"github.com/empowerher/riskgrid/internal/model"
)

// Artifact kinds written by the fit and grid commands.
const (
	KindEncoder      = "encoder"
	KindClassifier   = "classifier"
	KindGridSnapshot = "grid_snapshot"
)

// Artifact is a serialized fitted object. Only the latest artifact of each
// kind is kept.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Blob      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// IncidentFilter narrows ListIncidents. Zero values match everything.
type IncidentFilter struct {
	Category    string `json:"category,omitempty"`
	MinSeverity int    `json:"min_severity,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the risk grid.
type Store interface {
	// Incidents
	InsertIncidents(ctx context.Context, incidents []model.Incident) (int, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]model.Incident, error)
	CountIncidents(ctx context.Context) (int, error)

	// Artifacts
	SaveArtifact(ctx context.Context, kind string, blob []byte) (*Artifact, error)
	LoadArtifact(ctx context.Context, kind string) (*Artifact, error)

	// Feedback
	RecordFeedback(ctx context.Context, inc model.Incident, verdict model.Verdict) (*model.Feedback, error)
	PendingFeedback(ctx context.Context, limit int) ([]model.Feedback, error)
	MarkFeedbackProcessed(ctx context.Context, ids []string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg.Driver and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		st, err = NewSQLite(cfg.SQLitePath)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func validVerdict(v model.Verdict) error {
	if v != model.VerdictGood && v != model.VerdictBad {
		return eris.Errorf("store: invalid verdict %q", v)
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
