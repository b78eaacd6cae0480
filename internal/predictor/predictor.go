// Package predictor defines the classifier collaborator and its
// implementations: a local nearest-centroid baseline, a remote HTTP model
// server, and a caching wrapper.
package predictor

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
)

// Probabilities is the class distribution [p_safe, p_risky].
type Probabilities struct {
	Safe  float64 `json:"safe"`
	Risky float64 `json:"risky"`
}

// Slice returns [p_safe, p_risky].
func (p Probabilities) Slice() []float64 { return []float64{p.Safe, p.Risky} }

// Of returns the probability of a label.
func (p Probabilities) Of(l model.Label) float64 {
	if l == model.LabelRisky {
		return p.Risky
	}
	return p.Safe
}

// Valid reports whether both entries lie in [0,1] and sum to 1.
func (p Probabilities) Valid() bool {
	in := func(x float64) bool { return x >= 0 && x <= 1 && !math.IsNaN(x) }
	return in(p.Safe) && in(p.Risky) && math.Abs(p.Safe+p.Risky-1) < 1e-6
}

// Prediction is a label with its class distribution.
type Prediction struct {
	Label         model.Label   `json:"label"`
	Probabilities Probabilities `json:"probabilities"`
}

// Confidence is the probability of the predicted label.
func (p Prediction) Confidence() float64 { return p.Probabilities.Of(p.Label) }

// Predictor is the opaque binary classifier over feature vectors.
type Predictor interface {
	Predict(ctx context.Context, v features.Vector) (model.Label, error)
	PredictProbability(ctx context.Context, v features.Vector) (Probabilities, error)
}

// Scorer is implemented by predictors that produce label and distribution
// in one call.
type Scorer interface {
	Score(ctx context.Context, v features.Vector) (Prediction, error)
}

// Score returns the label and distribution, in a single call when p is a
// Scorer.
func Score(ctx context.Context, p Predictor, v features.Vector) (Prediction, error) {
	if s, ok := p.(Scorer); ok {
		return s.Score(ctx, v)
	}
	label, err := p.Predict(ctx, v)
	if err != nil {
		return Prediction{}, err
	}
	probs, err := p.PredictProbability(ctx, v)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Label: label, Probabilities: probs}, nil
}

// labelFromProbabilities picks risky on ties at or above one half.
func labelFromProbabilities(p Probabilities) model.Label {
	if p.Risky >= 0.5 {
		return model.LabelRisky
	}
	return model.LabelSafe
}

// ErrLayoutMismatch is returned when a vector's layout differs from the one
// a model was fitted on.
var ErrLayoutMismatch = eris.New("predictor: feature layout mismatch")
