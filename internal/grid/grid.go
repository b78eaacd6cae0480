// Package grid bins incidents into fixed-size lat/lon cells, scores each cell
// and answers point and radius queries against the published cell table.
package grid

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/model"
)

var (
	// ErrEmptyInput is returned by Build for an empty incident set.
	ErrEmptyInput = eris.New("grid: empty input")
	// ErrNotBuilt is returned by queries before the first successful Build.
	ErrNotBuilt = eris.New("grid: not built")
)

const (
	// DefaultSizeDeg is the default cell side, roughly 1.1 km.
	DefaultSizeDeg = 0.01
	// KMPerDegree is the flat conversion used for all distances.
	KMPerDegree = 111.0
	// DefaultRadiusKM is the nearby radius used when a caller passes none.
	DefaultRadiusKM = 2.0
)

// Composite score weights on the standardized cell statistics.
const (
	weightCount        = 0.4
	weightMeanSeverity = 0.3
	weightMaxSeverity  = 0.3
)

// Policy selects the tier thresholds. One policy applies to a whole table.
type Policy string

const (
	// PolicyThree maps scores to low / medium / high at 0.4 and 0.7.
	PolicyThree Policy = "three"
	// PolicyFive maps scores to safe / low / medium / high / critical at
	// 0.2, 0.4, 0.6 and 0.8.
	PolicyFive Policy = "five"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyThree || p == PolicyFive
}

// Classify maps a [0,1] score to a tier. Thresholds are inclusive lower
// bounds so the ranges never overlap or leave gaps.
func (p Policy) Classify(score float64) model.Tier {
	if p == PolicyFive {
		switch {
		case score >= 0.8:
			return model.TierCritical
		case score >= 0.6:
			return model.TierHigh
		case score >= 0.4:
			return model.TierMedium
		case score >= 0.2:
			return model.TierLow
		default:
			return model.TierSafe
		}
	}
	switch {
	case score >= 0.7:
		return model.TierHigh
	case score >= 0.4:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// Tiers lists the tiers a policy can produce, lowest first.
func (p Policy) Tiers() []model.Tier {
	if p == PolicyFive {
		return []model.Tier{model.TierSafe, model.TierLow, model.TierMedium, model.TierHigh, model.TierCritical}
	}
	return []model.Tier{model.TierLow, model.TierMedium, model.TierHigh}
}

// Config holds grid settings.
type Config struct {
	SizeDeg float64 `yaml:"size_deg" mapstructure:"size_deg"`
	Tiers   Policy  `yaml:"tiers" mapstructure:"tiers"`
}

func (c Config) withDefaults() Config {
	if c.SizeDeg <= 0 {
		c.SizeDeg = DefaultSizeDeg
	}
	if c.Tiers == "" {
		c.Tiers = PolicyThree
	}
	return c
}

// Engine publishes cell tables built from incident sets. Queries read the
// current table without locking; Build swaps in a fresh table atomically.
type Engine struct {
	cfg   Config
	table atomic.Pointer[Table]
}

// New creates an Engine with no table.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if !cfg.Tiers.Valid() {
		return nil, eris.Errorf("grid: unknown tier policy %q", cfg.Tiers)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's build settings.
func (e *Engine) Config() Config { return e.cfg }

// Build computes a table from incidents and publishes it. On error the
// previously published table stays in place.
func (e *Engine) Build(incidents []model.Incident) (Summary, error) {
	t, err := Compute(incidents, e.cfg)
	if err != nil {
		return Summary{}, err
	}
	e.Publish(t)
	return t.Summary(), nil
}

// Publish swaps in an already computed table.
func (e *Engine) Publish(t *Table) {
	e.table.Store(t)
	s := t.Summary()
	zap.L().Info("grid: table published",
		zap.Int("cells", s.TotalCells),
		zap.Int("incidents", s.TotalIncidents),
		zap.String("policy", string(t.Policy)),
		zap.Any("tiers", s.TierCounts),
	)
}

// Current returns the published table.
func (e *Engine) Current() (*Table, error) {
	t := e.table.Load()
	if t == nil {
		return nil, ErrNotBuilt
	}
	return t, nil
}

// Lookup classifies a point against the current table.
func (e *Engine) Lookup(lat, lon float64) (CellInfo, error) {
	t, err := e.Current()
	if err != nil {
		return CellInfo{}, err
	}
	return t.Lookup(lat, lon), nil
}

// Nearby lists cells whose centroid lies within radiusKM of the point.
func (e *Engine) Nearby(lat, lon, radiusKM float64) (NearbyResult, error) {
	t, err := e.Current()
	if err != nil {
		return NearbyResult{}, err
	}
	return t.Nearby(lat, lon, radiusKM)
}

// Summary reduces the current table.
func (e *Engine) Summary() (Summary, error) {
	t, err := e.Current()
	if err != nil {
		return Summary{}, err
	}
	return t.Summary(), nil
}
