package predictor

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
)

// Centroid is a nearest-centroid classifier over standardized features.
// Class probabilities weight each class prior by exp(-d²/2), d being the
// distance to that class's mean vector. It serves as the local fallback
// when no model server is configured.
type Centroid struct {
	Names  []string     `json:"names"`
	Means  [2][]float64 `json:"means"` // indexed by model.Label
	Counts [2]int       `json:"counts"`
}

// FitCentroid computes per-class mean vectors from a fitted table.
func FitCentroid(t features.Table, labels []model.Label) (*Centroid, error) {
	if t.Len() == 0 {
		return nil, features.ErrNotEnoughData
	}
	if t.Len() != len(labels) {
		return nil, eris.Errorf("predictor: %d rows but %d labels", t.Len(), len(labels))
	}

	c := &Centroid{Names: slices.Clone(t.Names)}
	width := len(t.Names)
	for k := range c.Means {
		c.Means[k] = make([]float64, width)
	}
	for i, row := range t.Rows {
		k := labels[i]
		c.Counts[k]++
		for j, x := range row {
			c.Means[k][j] += x
		}
	}
	for k := range c.Means {
		if c.Counts[k] == 0 {
			continue
		}
		for j := range c.Means[k] {
			c.Means[k][j] /= float64(c.Counts[k])
		}
	}
	return c, nil
}

// Predict returns the more probable class.
func (c *Centroid) Predict(ctx context.Context, v features.Vector) (model.Label, error) {
	p, err := c.Score(ctx, v)
	return p.Label, err
}

// PredictProbability returns [p_safe, p_risky].
func (c *Centroid) PredictProbability(ctx context.Context, v features.Vector) (Probabilities, error) {
	p, err := c.Score(ctx, v)
	return p.Probabilities, err
}

// Score computes label and distribution together.
func (c *Centroid) Score(_ context.Context, v features.Vector) (Prediction, error) {
	if !slices.Equal(v.Names, c.Names) {
		return Prediction{}, ErrLayoutMismatch
	}

	total := float64(c.Counts[0] + c.Counts[1])
	var logp [2]float64
	for k := range logp {
		if c.Counts[k] == 0 {
			logp[k] = math.Inf(-1)
			continue
		}
		var d2 float64
		for j, x := range v.Values {
			diff := x - c.Means[k][j]
			d2 += diff * diff
		}
		logp[k] = math.Log(float64(c.Counts[k])/total) - d2/2
	}

	// log-sum-exp keeps far-away points from underflowing to 0/0.
	m := math.Max(logp[0], logp[1])
	e0, e1 := math.Exp(logp[0]-m), math.Exp(logp[1]-m)
	probs := Probabilities{Safe: e0 / (e0 + e1), Risky: e1 / (e0 + e1)}
	return Prediction{Label: labelFromProbabilities(probs), Probabilities: probs}, nil
}

// Save writes the model as zstd-compressed JSON.
func (c *Centroid) Save(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return eris.Wrap(err, "predictor: create zstd writer")
	}
	if err := json.NewEncoder(zw).Encode(c); err != nil {
		_ = zw.Close()
		return eris.Wrap(err, "predictor: encode centroid")
	}
	return eris.Wrap(zw.Close(), "predictor: flush centroid")
}

// LoadCentroid reads a model written by Save.
func LoadCentroid(r io.Reader) (*Centroid, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "predictor: create zstd reader")
	}
	defer zr.Close()

	var c Centroid
	if err := json.NewDecoder(zr).Decode(&c); err != nil {
		return nil, eris.Wrap(err, "predictor: decode centroid")
	}
	if c.Counts[0]+c.Counts[1] == 0 {
		return nil, eris.New("predictor: centroid has no training rows")
	}
	for k := range c.Means {
		if len(c.Means[k]) != len(c.Names) {
			return nil, eris.New("predictor: centroid width does not match names")
		}
	}
	return &c, nil
}
