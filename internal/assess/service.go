// Package assess answers live safety questions by combining the published
// grid, the fitted feature encoder and the classifier.
package assess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/combiner"
	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/predictor"
)

// Defaults applied to optional query fields.
const (
	DefaultSeverity = 3
	DefaultCategory = "General Safety"
	DefaultUserID   = "anonymous"
	liveLocation    = "Live Location"
	unknownStation  = "Unknown PS"
)

// Models is the fitted encoder and the classifier that consumes its
// vectors. They are always swapped together.
type Models struct {
	Encoder   *features.Encoder
	Predictor predictor.Predictor
}

// Options tunes batch behavior.
type Options struct {
	MaxBatch    int
	Concurrency int
	Metrics     *metrics.Metrics // optional
	Now         func() time.Time // defaults to time.Now
}

// Service is safe for concurrent use. The grid engine and the models are
// replaced atomically by refreshes; each query reads both once.
type Service struct {
	grid    *grid.Engine
	models  atomic.Pointer[Models]
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a Service. models may be nil until the first refresh.
func NewService(engine *grid.Engine, models *Models, opts Options) *Service {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	s := &Service{grid: engine, opts: opts, metrics: opts.Metrics, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if models != nil {
		s.models.Store(models)
	}
	return s
}

// Grid returns the engine backing the service.
func (s *Service) Grid() *grid.Engine { return s.grid }

// SetModels publishes a new encoder and classifier pair.
func (s *Service) SetModels(m *Models) { s.models.Store(m) }

// Models returns the published pair, or nil.
func (s *Service) Models() *Models { return s.models.Load() }

// Ready reports whether a grid and models have been published.
func (s *Service) Ready() (gridReady, modelsReady bool) {
	_, err := s.grid.Current()
	return err == nil, s.models.Load() != nil
}

// Query is one location to assess. Zero values select defaults: the
// current time and date, severity 3 and a generic category.
type Query struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Time      string  `json:"time,omitempty"`
	Date      string  `json:"date,omitempty"`
	Severity  int     `json:"severity,omitempty"`
	Category  string  `json:"crime_type,omitempty"`
	UserID    string  `json:"user_id,omitempty"`
}

// Validate reports every out-of-range field.
func (q Query) Validate() error {
	var problems []string
	if err := model.ValidateCoordinates(q.Latitude, q.Longitude); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			problems = append(problems, ve.Problems...)
		}
	}
	if q.Severity != 0 && (q.Severity < model.MinSeverity || q.Severity > model.MaxSeverity) {
		problems = append(problems, fmt.Sprintf("severity must be between %d and %d", model.MinSeverity, model.MaxSeverity))
	}
	if q.Time != "" {
		if _, err := time.Parse("15:04", strings.TrimSpace(q.Time)); err != nil {
			problems = append(problems, "time must be HH:MM")
		}
	}
	if q.Date != "" {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(q.Date)); err != nil {
			problems = append(problems, "date must be YYYY-MM-DD")
		}
	}
	if len(problems) > 0 {
		return &model.ValidationError{Problems: problems}
	}
	return nil
}

// resolve fills defaults and returns the synthetic incident handed to the
// encoder.
func (s *Service) resolve(q Query) (Query, model.Incident) {
	now := s.now()
	if q.Time == "" {
		q.Time = now.Format("15:04")
	}
	if q.Date == "" {
		q.Date = now.Format(time.DateOnly)
	}
	if q.Severity == 0 {
		q.Severity = DefaultSeverity
	}
	if q.Category == "" {
		q.Category = DefaultCategory
	}
	if q.UserID == "" {
		q.UserID = DefaultUserID
	}
	return q, model.Incident{
		ID:        "live_check_" + q.UserID,
		Category:  q.Category,
		Location:  liveLocation,
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		Date:      q.Date,
		Time:      q.Time,
		Severity:  q.Severity,
		Station:   unknownStation,
	}
}

// Prediction is the classifier's view of one query.
type Prediction struct {
	Query      Query       `json:"query"`
	Label      model.Label `json:"-"`
	Confidence float64     `json:"confidence"`
	RiskScore  float64     `json:"risk_score"`
	SafeScore  float64     `json:"safe_score"`
}

// Predict runs only the classifier for q.
func (s *Service) Predict(ctx context.Context, q Query) (Prediction, error) {
	if err := q.Validate(); err != nil {
		return Prediction{}, err
	}
	m := s.models.Load()
	if m == nil {
		return Prediction{}, features.ErrNotFitted
	}
	q, inc := s.resolve(q)
	return s.predict(ctx, m, q, inc)
}

func (s *Service) predict(ctx context.Context, m *Models, q Query, inc model.Incident) (Prediction, error) {
	v, err := m.Encoder.TransformOne(inc)
	if err != nil {
		return Prediction{}, eris.Wrap(err, "assess: encode")
	}
	p, err := predictor.Score(ctx, m.Predictor, v)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PredictorErrors.Inc()
		}
		return Prediction{}, eris.Wrap(err, "assess: predict")
	}
	return Prediction{
		Query:      q,
		Label:      p.Label,
		Confidence: p.Confidence(),
		RiskScore:  p.Probabilities.Risky,
		SafeScore:  p.Probabilities.Safe,
	}, nil
}

// Assessment is the full live check of one location.
type Assessment struct {
	Prediction
	Timestamp       time.Time       `json:"timestamp"`
	GridTier        model.Tier      `json:"grid_tier"`
	GridClassified  bool            `json:"grid_classified"`
	Result          combiner.Result `json:"result"`
	Recommendations []string        `json:"recommendations"`
}

// Check looks the point up in the grid, classifies it and combines both.
// Without a published grid the tier is unknown and the classifier decides
// alone.
func (s *Service) Check(ctx context.Context, q Query) (Assessment, error) {
	if err := q.Validate(); err != nil {
		return Assessment{}, err
	}
	m := s.models.Load()
	if m == nil {
		return Assessment{}, features.ErrNotFitted
	}
	return s.check(ctx, m, q)
}

func (s *Service) check(ctx context.Context, m *Models, q Query) (Assessment, error) {
	q, inc := s.resolve(q)

	info, err := s.grid.Lookup(q.Latitude, q.Longitude)
	switch {
	case errors.Is(err, grid.ErrNotBuilt):
		info = grid.CellInfo{Tier: model.TierUnknown}
	case err != nil:
		return Assessment{}, eris.Wrap(err, "assess: grid lookup")
	}

	pred, err := s.predict(ctx, m, q, inc)
	if err != nil {
		return Assessment{}, err
	}

	tod := combiner.TimeOfDay{Hour: features.ParseTime(q.Time).Hour}
	res := combiner.Assess(info.Tier, pred.Label, tod)

	if s.metrics != nil {
		s.metrics.GridLookups.WithLabelValues(string(info.Tier)).Inc()
		s.metrics.Assessments.WithLabelValues(string(res.Level)).Inc()
	}
	zap.L().Debug("assess: check",
		zap.String("user_id", q.UserID),
		zap.String("tier", string(info.Tier)),
		zap.Stringer("label", pred.Label),
		zap.String("level", string(res.Level)),
	)

	return Assessment{
		Prediction:      pred,
		Timestamp:       s.now(),
		GridTier:        info.Tier,
		GridClassified:  info.Classified,
		Result:          res,
		Recommendations: combiner.Recommendations(res.Level, tod),
	}, nil
}
