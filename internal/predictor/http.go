package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/resilience"
)

// HTTPConfig configures a remote model server client.
type HTTPConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	Retry      resilience.RetryPolicy
	Client     *http.Client
}

// HTTPPredictor calls a model server that accepts
// {"features": {name: value}} at POST <url>/predict and answers
// {"prediction": 0|1, "probability": [p_safe, p_risky]}.
type HTTPPredictor struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewHTTPPredictor creates a client. A zero rate disables limiting.
func NewHTTPPredictor(cfg HTTPConfig) (*HTTPPredictor, error) {
	if cfg.URL == "" {
		return nil, eris.New("predictor: model server url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("predictor.http")
	}
	return &HTTPPredictor{
		url:     strings.TrimRight(cfg.URL, "/") + "/predict",
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		breaker: resilience.NewBreaker("model-server", 5, 30*time.Second),
	}, nil
}

type predictRequest struct {
	Features map[string]float64 `json:"features"`
}

type predictResponse struct {
	Prediction  *int      `json:"prediction"`
	Probability []float64 `json:"probability"`
}

// Predict returns the server's label.
func (h *HTTPPredictor) Predict(ctx context.Context, v features.Vector) (model.Label, error) {
	p, err := h.Score(ctx, v)
	return p.Label, err
}

// PredictProbability returns the server's class distribution.
func (h *HTTPPredictor) PredictProbability(ctx context.Context, v features.Vector) (Probabilities, error) {
	p, err := h.Score(ctx, v)
	return p.Probabilities, err
}

// Score performs one rate-limited, retried round trip.
func (h *HTTPPredictor) Score(ctx context.Context, v features.Vector) (Prediction, error) {
	body, err := json.Marshal(predictRequest{Features: v.Map()})
	if err != nil {
		return Prediction{}, eris.Wrap(err, "predictor: marshal request")
	}

	return resilience.Retry(ctx, h.retry, func(ctx context.Context) (Prediction, error) {
		return resilience.Guard(ctx, h.breaker, func(ctx context.Context) (Prediction, error) {
			if err := h.limiter.Wait(ctx); err != nil {
				return Prediction{}, eris.Wrap(err, "predictor: rate limit wait")
			}
			return h.do(ctx, body)
		})
	})
}

func (h *HTTPPredictor) do(ctx context.Context, body []byte) (Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, eris.Wrap(err, "predictor: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Prediction{}, eris.Wrap(err, "predictor: post")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, &resilience.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Prediction{}, eris.Wrap(err, "predictor: decode response")
	}
	if len(out.Probability) != 2 {
		return Prediction{}, eris.Errorf("predictor: expected 2 probabilities, got %d", len(out.Probability))
	}
	probs := Probabilities{Safe: out.Probability[0], Risky: out.Probability[1]}
	if !probs.Valid() {
		return Prediction{}, eris.Errorf("predictor: invalid probabilities %v", out.Probability)
	}

	label := labelFromProbabilities(probs)
	if out.Prediction != nil {
		switch *out.Prediction {
		case 0:
			label = model.LabelSafe
		case 1:
			label = model.LabelRisky
		default:
			return Prediction{}, eris.Errorf("predictor: invalid label %d", *out.Prediction)
		}
	}

	zap.L().Debug("predictor: remote prediction",
		zap.Stringer("label", label),
		zap.Float64("p_risky", probs.Risky),
	)
	return Prediction{Label: label, Probabilities: probs}, nil
}
