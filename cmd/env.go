package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
	"github.com/empowerher/riskgrid/internal/predictor"
	"github.com/empowerher/riskgrid/internal/resilience"
	"github.com/empowerher/riskgrid/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func encoderConfig() features.Config {
	return features.Config{
		CategoricalColumns: cfg.Encoder.CategoricalColumns,
		HighRiskCategories: cfg.Encoder.HighRiskCategories,
	}
}

func gridConfig() grid.Config {
	return grid.Config{SizeDeg: cfg.Grid.SizeDeg, Tiers: grid.Policy(cfg.Grid.Tiers)}
}

// localClassifier is true when no model server is configured and the
// centroid model fitted alongside the encoder is used instead.
func localClassifier() bool {
	return cfg.Predictor.URL == ""
}

// predictorSource hands out the classifier published with each bundle.
// The remote client and its cache live for the whole process.
type predictorSource struct {
	remote *predictor.Cached
}

func newPredictorSource(reg prometheus.Registerer) (*predictorSource, error) {
	if localClassifier() {
		return &predictorSource{}, nil
	}
	h, err := predictor.NewHTTPPredictor(predictor.HTTPConfig{
		URL:        cfg.Predictor.URL,
		Timeout:    time.Duration(cfg.Predictor.TimeoutSecs) * time.Second,
		RatePerSec: cfg.Predictor.RatePerSec,
		Retry:      resilience.RetryPolicy{Attempts: cfg.Predictor.RetryAttempts},
	})
	if err != nil {
		return nil, err
	}
	cached := predictor.NewCached(h, cfg.Predictor.CacheSize, time.Duration(cfg.Predictor.CacheTTLSecs)*time.Second)
	if reg != nil {
		metrics.RegisterCache(reg, cached)
	}
	zap.L().Info("using remote classifier", zap.String("url", cfg.Predictor.URL))
	return &predictorSource{remote: cached}, nil
}

func (p *predictorSource) For(b *assess.Bundle) (predictor.Predictor, error) {
	if p.remote != nil {
		return p.remote, nil
	}
	return assess.LocalPredictor(b)
}

func newService(engine *grid.Engine, models *assess.Models, m *metrics.Metrics) *assess.Service {
	return assess.NewService(engine, models, assess.Options{
		MaxBatch:    cfg.Batch.MaxLocations,
		Concurrency: cfg.Batch.Concurrency,
		Metrics:     m,
	})
}

// loadService restores the last fitted bundle into a ready service.
func loadService(ctx context.Context, st store.Store, src *predictorSource, m *metrics.Metrics) (*assess.Service, error) {
	engine, err := grid.New(gridConfig())
	if err != nil {
		return nil, err
	}
	b, err := assess.LoadBundle(ctx, st)
	if err != nil {
		if errors.Is(err, assess.ErrNoArtifacts) {
			return nil, eris.Wrap(err, "run `riskgrid fit` first")
		}
		return nil, err
	}
	p, err := src.For(b)
	if err != nil {
		return nil, err
	}
	engine.Publish(b.Table)
	return newService(engine, &assess.Models{Encoder: b.Encoder, Predictor: p}, m), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
