// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	Assessments     *prometheus.CounterVec // by final level
	GridLookups     *prometheus.CounterVec // by tier
	PredictorErrors prometheus.Counter

	GridBuilds      prometheus.Counter
	GridCells       prometheus.Gauge
	RefreshFailures prometheus.Counter
}

// New creates the collectors and registers them with reg. Passing a fresh
// registry keeps tests isolated from the global default.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgrid_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskgrid_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgrid_assessments_total",
			Help: "Risk assessments by final level",
		}, []string{"level"}),
		GridLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgrid_grid_lookups_total",
			Help: "Grid lookups by resolved tier",
		}, []string{"tier"}),
		PredictorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "riskgrid_predictor_errors_total",
			Help: "Classifier calls that returned an error",
		}),

		GridBuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "riskgrid_grid_builds_total",
			Help: "Published grid rebuilds",
		}),
		GridCells: f.NewGauge(prometheus.GaugeOpts{
			Name: "riskgrid_grid_cells",
			Help: "Populated cells in the published grid",
		}),
		RefreshFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "riskgrid_refresh_failures_total",
			Help: "Background refreshes that failed and kept the previous state",
		}),
	}
}

// CacheStats is satisfied by the prediction cache.
type CacheStats interface {
	Stats() (hits, misses uint64)
}

// RegisterCache exports cache hit and miss totals read from c at scrape
// time.
func RegisterCache(reg prometheus.Registerer, c CacheStats) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "riskgrid_prediction_cache_hits_total",
		Help: "Prediction cache hits",
	}, func() float64 {
		hits, _ := c.Stats()
		return float64(hits)
	})
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "riskgrid_prediction_cache_misses_total",
		Help: "Prediction cache misses",
	}, func() float64 {
		_, misses := c.Stats()
		return float64(misses)
	})
}
