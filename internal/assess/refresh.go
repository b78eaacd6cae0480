package assess

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/predictor"
	"github.com/empowerher/riskgrid/internal/store"
)

// PredictorFunc selects the classifier to publish alongside a bundle.
type PredictorFunc func(b *Bundle) (predictor.Predictor, error)

// LocalPredictor publishes the bundle's centroid model.
func LocalPredictor(b *Bundle) (predictor.Predictor, error) {
	if b.Centroid == nil {
		return nil, eris.New("assess: bundle has no local classifier")
	}
	return b.Centroid, nil
}

// RefresherConfig wires a Refresher.
type RefresherConfig struct {
	Store         store.Store
	Service       *Service
	Encoder       features.Config
	Local         bool          // fit the centroid classifier
	Predictor     PredictorFunc // defaults to LocalPredictor
	FeedbackBatch int
	Metrics       *metrics.Metrics
}

// Refresher folds feedback into the incident set, retrains and publishes
// the grid and models. A failed refresh leaves the published state as is.
type Refresher struct {
	cfg RefresherConfig
}

// NewRefresher creates a Refresher.
func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Predictor == nil {
		cfg.Predictor = LocalPredictor
	}
	if cfg.FeedbackBatch <= 0 {
		cfg.FeedbackBatch = 1000
	}
	return &Refresher{cfg: cfg}
}

// Report describes a completed refresh.
type Report struct {
	FeedbackProcessed int          `json:"feedback_processed"`
	FeedbackApplied   int          `json:"feedback_applied"`
	Incidents         int          `json:"incidents"`
	Grid              grid.Summary `json:"grid"`
}

// Refresh runs one cycle.
func (r *Refresher) Refresh(ctx context.Context) (Report, error) {
	rep, err := r.refresh(ctx)
	if err != nil && r.cfg.Metrics != nil {
		r.cfg.Metrics.RefreshFailures.Inc()
	}
	return rep, err
}

func (r *Refresher) refresh(ctx context.Context) (Report, error) {
	var rep Report
	st := r.cfg.Store

	applied, processed, err := r.applyFeedback(ctx)
	if err != nil {
		return rep, err
	}
	rep.FeedbackApplied, rep.FeedbackProcessed = applied, processed

	incidents, err := st.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return rep, err
	}
	rep.Incidents = len(incidents)

	b, err := Train(incidents, r.cfg.Encoder, r.cfg.Service.Grid().Config(), r.cfg.Local)
	if err != nil {
		return rep, err
	}
	p, err := r.cfg.Predictor(b)
	if err != nil {
		return rep, err
	}
	if err := b.Save(ctx, st); err != nil {
		return rep, err
	}

	r.cfg.Service.Grid().Publish(b.Table)
	r.cfg.Service.SetModels(&Models{Encoder: b.Encoder, Predictor: p})
	rep.Grid = b.Table.Summary()

	if m := r.cfg.Metrics; m != nil {
		m.GridBuilds.Inc()
		m.GridCells.Set(float64(rep.Grid.TotalCells))
	}
	zap.L().Info("assess: refresh complete",
		zap.Int("incidents", rep.Incidents),
		zap.Int("feedback_applied", rep.FeedbackApplied),
		zap.Int("cells", rep.Grid.TotalCells),
	)
	return rep, nil
}

// applyFeedback turns pending bad verdicts into incidents and marks every
// pending row processed. Invalid rows are dropped.
func (r *Refresher) applyFeedback(ctx context.Context) (applied, processed int, err error) {
	st := r.cfg.Store
	pending, err := st.PendingFeedback(ctx, r.cfg.FeedbackBatch)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	ids := make([]string, 0, len(pending))
	var bad []model.Incident
	for _, fb := range pending {
		ids = append(ids, fb.ID)
		if fb.Verdict != model.VerdictBad {
			continue
		}
		inc := fb.Incident
		if inc.ID == "" {
			inc.ID = "feedback_" + fb.ID
		}
		if err := model.Validate(inc); err != nil {
			zap.L().Warn("assess: dropping invalid feedback", zap.String("id", fb.ID), zap.Error(err))
			continue
		}
		bad = append(bad, inc)
	}

	if _, err := st.InsertIncidents(ctx, bad); err != nil {
		return 0, 0, err
	}
	if err := st.MarkFeedbackProcessed(ctx, ids); err != nil {
		return 0, 0, err
	}
	return len(bad), len(ids), nil
}

// Run refreshes every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				zap.L().Error("assess: refresh failed, keeping previous state", zap.Error(err))
			}
		}
	}
}
