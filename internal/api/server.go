// Package api exposes the assessment service over HTTP. Handlers decode and
// validate requests, call into assess and grid, and shape JSON responses.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
	"github.com/empowerher/riskgrid/internal/store"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Config wires a Server.
type Config struct {
	Service         *assess.Service
	Store           store.Store // optional; enables POST /feedback
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer // served at /metrics when set
	DefaultRadiusKM float64
	CORSOrigins     []string
	Now             func() time.Time
}

// Server holds the handler dependencies.
type Server struct {
	svc      *assess.Service
	store    store.Store
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	radiusKM float64
	origins  []string
	now      func() time.Time
}

// New creates a Server.
func New(cfg Config) *Server {
	s := &Server{
		svc:      cfg.Service,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		radiusKM: cfg.DefaultRadiusKM,
		origins:  cfg.CORSOrigins,
		now:      cfg.Now,
	}
	if s.radiusKM <= 0 {
		s.radiusKM = grid.DefaultRadiusKM
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/model_info", s.handleModelInfo)
	r.Get("/example_request", s.handleExampleRequest)
	r.Post("/predict", s.handlePredict)
	r.Post("/predict_batch", s.handlePredictBatch)
	r.Post("/check_grid_zone", s.handleCheckGridZone)
	r.Post("/nearby_risk_zones", s.handleNearbyRiskZones)
	r.Get("/grid_summary", s.handleGridSummary)
	r.Post("/live_safety_check", s.handleLiveSafetyCheck)
	r.Post("/track_user_journey", s.handleTrackUserJourney)
	if s.store != nil {
		r.Post("/feedback", s.handleFeedback)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// instrument records request counts and latency by route pattern, so path
// parameters never explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zap.L().Error("api: handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
