// Package features turns raw incident rows into the fixed-layout numeric
// feature vectors consumed by the classifier, and derives training labels.
package features

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/model"
)

var (
	// ErrNotFitted is returned by Transform and Save before Fit has run.
	ErrNotFitted = eris.New("features: encoder not fitted")
	// ErrNotEnoughData is returned by Fit for an empty training set.
	ErrNotEnoughData = eris.New("features: not enough data")
	// ErrAlreadyFitted is returned by a second Fit on the same encoder.
	ErrAlreadyFitted = eris.New("features: encoder already fitted")
)

// DefaultCategoricalColumns are encoded when no columns are configured.
var DefaultCategoricalColumns = []string{model.ColCategory, model.ColStation}

// Config selects the categorical columns and the high-risk category set.
type Config struct {
	CategoricalColumns []string `yaml:"categorical_columns" mapstructure:"categorical_columns"`
	HighRiskCategories []string `yaml:"high_risk_categories" mapstructure:"high_risk_categories"`
}

// State is the fitted encoder state. Categories[col][code] is the label
// assigned that code; codes follow the sorted order of observed values.
type State struct {
	Columns    []string            `json:"columns"`
	Categories map[string][]string `json:"categories"`
	Means      map[string]float64  `json:"means"`
	Scales     map[string]float64  `json:"scales"`
	HighRisk   []string            `json:"high_risk"`
}

type fitted struct {
	State
	codes map[string]map[string]int
}

// Encoder fits categorical code tables and standardization parameters once,
// then transforms any number of rows against them. Transform is safe for
// concurrent use once Fit has returned.
type Encoder struct {
	columns  []string
	labeler  Labeler
	highRisk []string
	state    atomic.Pointer[fitted]
}

// NewEncoder creates an unfitted encoder.
func NewEncoder(cfg Config) *Encoder {
	cols := cfg.CategoricalColumns
	if len(cols) == 0 {
		cols = DefaultCategoricalColumns
	}
	highRisk := cfg.HighRiskCategories
	if len(highRisk) == 0 {
		highRisk = DefaultHighRiskCategories
	}
	return &Encoder{
		columns:  slices.Clone(cols),
		labeler:  NewLabeler(highRisk),
		highRisk: slices.Clone(highRisk),
	}
}

// Fitted reports whether Fit (or Load) has completed.
func (e *Encoder) Fitted() bool {
	return e.state.Load() != nil
}

// Labeler returns the label rule used by Fit.
func (e *Encoder) Labeler() Labeler {
	return e.labeler
}

// Names returns the ordered feature layout.
func (e *Encoder) Names() []string {
	cols := e.columns
	if f := e.state.Load(); f != nil {
		cols = f.Columns
	}
	names := slices.Clone(baseFeatures)
	for _, c := range cols {
		names = append(names, EncodedName(c))
	}
	return names
}

// State returns a copy of the fitted state.
func (e *Encoder) State() (State, error) {
	f := e.state.Load()
	if f == nil {
		return State{}, ErrNotFitted
	}
	return cloneState(f.State), nil
}

// Fit labels every row, fits one code table per categorical column and the
// standardization parameters of the scaled features, then returns the
// standardized table and the label vector.
func (e *Encoder) Fit(rows []model.Incident) (Table, []model.Label, error) {
	if len(rows) == 0 {
		return Table{}, nil, ErrNotEnoughData
	}
	if e.Fitted() {
		return Table{}, nil, ErrAlreadyFitted
	}

	labels := make([]model.Label, len(rows))
	for i, r := range rows {
		labels[i] = e.labeler.Label(r)
	}

	st := State{
		Columns:    slices.Clone(e.columns),
		Categories: make(map[string][]string, len(e.columns)),
		Means:      make(map[string]float64, len(scaledFeatures)),
		Scales:     make(map[string]float64, len(scaledFeatures)),
		HighRisk:   slices.Clone(e.highRisk),
	}
	for _, col := range st.Columns {
		st.Categories[col] = distinctSorted(rows, col)
	}
	f := newFitted(st)

	raw := make([][]float64, len(rows))
	for i, r := range rows {
		raw[i] = f.encodeRaw(r)
	}

	for _, name := range scaledFeatures {
		idx := slices.Index(baseFeatures, name)
		mean, scale := meanScale(raw, idx)
		f.Means[name] = mean
		f.Scales[name] = scale
	}
	for _, r := range raw {
		f.scale(r)
	}

	if !e.state.CompareAndSwap(nil, f) {
		return Table{}, nil, ErrAlreadyFitted
	}

	zap.L().Info("features: encoder fitted",
		zap.Int("rows", len(rows)),
		zap.Int("categorical_columns", len(st.Columns)),
	)
	return Table{Names: e.Names(), Rows: raw}, labels, nil
}

// Transform derives standardized feature rows using the fitted state.
// Categorical values unseen during Fit map to code 0, the first fitted value.
func (e *Encoder) Transform(rows []model.Incident) (Table, error) {
	f := e.state.Load()
	if f == nil {
		return Table{}, ErrNotFitted
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		v := f.encodeRaw(r)
		f.scale(v)
		out[i] = v
	}
	return Table{Names: e.Names(), Rows: out}, nil
}

// TransformOne is Transform for a single row.
func (e *Encoder) TransformOne(inc model.Incident) (Vector, error) {
	t, err := e.Transform([]model.Incident{inc})
	if err != nil {
		return Vector{}, err
	}
	return t.Row(0), nil
}

func newFitted(st State) *fitted {
	f := &fitted{State: st, codes: make(map[string]map[string]int, len(st.Columns))}
	for _, col := range st.Columns {
		cats := st.Categories[col]
		m := make(map[string]int, len(cats))
		for code, v := range cats {
			m[v] = code
		}
		f.codes[col] = m
	}
	return f
}

// encodeRaw builds the unscaled layout for one row.
func (f *fitted) encodeRaw(inc model.Incident) []float64 {
	v := deriveBase(inc)
	for _, col := range f.Columns {
		code, ok := f.codes[col][inc.Categorical(col)]
		if !ok {
			code = 0
		}
		v = append(v, float64(code))
	}
	return v
}

// scale standardizes the scaled features of v in place.
func (f *fitted) scale(v []float64) {
	for i, name := range baseFeatures {
		mean, ok := f.Means[name]
		if !ok {
			continue
		}
		v[i] = (v[i] - mean) / f.Scales[name]
	}
}

// meanScale returns the mean and population standard deviation of column
// idx. A zero or non-finite deviation yields scale 1 so constant columns
// map to 0 instead of NaN.
func meanScale(rows [][]float64, idx int) (float64, float64) {
	n := float64(len(rows))
	var sum float64
	for _, r := range rows {
		sum += r[idx]
	}
	mean := sum / n

	var ss float64
	for _, r := range rows {
		d := r[idx] - mean
		ss += d * d
	}
	std := math.Sqrt(ss / n)
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		std = 1
	}
	return mean, std
}

func distinctSorted(rows []model.Incident, col string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		v := r.Categorical(col)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func cloneState(s State) State {
	c := State{
		Columns:    slices.Clone(s.Columns),
		Categories: make(map[string][]string, len(s.Categories)),
		Means:      make(map[string]float64, len(s.Means)),
		Scales:     make(map[string]float64, len(s.Scales)),
		HighRisk:   slices.Clone(s.HighRisk),
	}
	for k, v := range s.Categories {
		c.Categories[k] = slices.Clone(v)
	}
	for k, v := range s.Means {
		c.Means[k] = v
	}
	for k, v := range s.Scales {
		c.Scales[k] = v
	}
	return c
}
