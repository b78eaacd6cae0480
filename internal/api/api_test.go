package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/metrics"
	"github.com/empowerher/riskgrid/internal/model"
	"github.com/empowerher/riskgrid/internal/predictor"
	"github.com/empowerher/riskgrid/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2024, 3, 2, 23, 15, 0, 0, time.UTC)

type fixedPredictor struct {
	pred predictor.Prediction
	err  error
}

func (f fixedPredictor) Predict(context.Context, features.Vector) (model.Label, error) {
	return f.pred.Label, f.err
}

func (f fixedPredictor) PredictProbability(context.Context, features.Vector) (predictor.Probabilities, error) {
	return f.pred.Probabilities, f.err
}

var risky = fixedPredictor{pred: predictor.Prediction{
	Label:         model.LabelRisky,
	Probabilities: predictor.Probabilities{Safe: 0.12345, Risky: 0.87655},
}}

func incidents() []model.Incident {
	var out []model.Incident
	for i := range 5 {
		out = append(out, model.Incident{
			ID: fmt.Sprintf("A%d", i), Category: "Assault", Latitude: 10.94, Longitude: 76.86,
			Severity: 5, Date: "2024-03-01", Time: "23:00", Station: "West",
		})
	}
	return append(out, model.Incident{
		ID: "B0", Category: "Theft", Latitude: 11.20, Longitude: 77.10,
		Severity: 1, Date: "2024-03-02", Time: "10:00", Station: "East",
	})
}

type fixture struct {
	srv     *httptest.Server
	svc     *assess.Service
	metrics *metrics.Metrics
	store   store.Store
}

type fixtureOpts struct {
	predictor predictor.Predictor
	noModels  bool
	noGrid    bool
	withStore bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	engine, err := grid.New(grid.Config{})
	require.NoError(t, err)
	if !o.noGrid {
		_, err = engine.Build(incidents())
		require.NoError(t, err)
	}

	var models *assess.Models
	if !o.noModels {
		enc := features.NewEncoder(features.Config{})
		_, _, err := enc.Fit(incidents())
		require.NoError(t, err)
		p := o.predictor
		if p == nil {
			p = risky
		}
		models = &assess.Models{Encoder: enc, Predictor: p}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := assess.NewService(engine, models, assess.Options{
		MaxBatch: 3,
		Metrics:  m,
		Now:      func() time.Time { return fixedNow },
	})

	cfg := Config{
		Service:  svc,
		Metrics:  m,
		Gatherer: reg,
		Now:      func() time.Time { return fixedNow },
	}
	f := &fixture{svc: svc, metrics: m}
	if o.withStore {
		st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		require.NoError(t, st.Migrate(context.Background()))
		t.Cleanup(func() { st.Close() }) //nolint:errcheck
		cfg.Store = st
		f.store = st
	}

	f.srv = httptest.NewServer(New(cfg).Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return readJSON(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return readJSON(t, resp)
}

func readJSON(t *testing.T, resp *http.Response) (int, map[string]any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, true, body["preprocessor_loaded"])
	assert.Equal(t, true, body["grid_loaded"])

	empty := newFixture(t, fixtureOpts{noModels: true, noGrid: true})
	code, body = empty.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["model_loaded"])
	assert.Equal(t, false, body["grid_loaded"])
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.get(t, "/model_info")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "api.fixedPredictor", body["model_type"])
	assert.NotEmpty(t, body["feature_names"])

	code, _ = newFixture(t, fixtureOpts{noModels: true}).get(t, "/model_info")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestExampleRequest(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.get(t, "/example_request")
	assert.Equal(t, http.StatusOK, code)
	ex := body["example_request"].(map[string]any)
	assert.Equal(t, "Sexual Harassment", ex["crime_type"])
}

func TestPredict(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/predict",
		`{"latitude": 10.94, "longitude": 76.86, "time": "04:00", "severity": 4, "crime_type": "Assault"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "risky", body["prediction"])
	assert.Equal(t, 0.877, body["confidence"])
	assert.Equal(t, 0.877, body["risk_score"])
	assert.Equal(t, 0.123, body["safe_score"])
	in := body["input_data"].(map[string]any)
	assert.Equal(t, "Assault", in["crime_type"])
	assert.Equal(t, "2024-03-02", in["date"])
}

func TestPredict_BadRequests(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", ``, "no data provided"},
		{"malformed", `{"latitude":`, "invalid request body"},
		{"missing coordinates", `{"latitude": 10}`, "latitude and longitude are required"},
		{"latitude range", `{"latitude": 95, "longitude": 76}`, "latitude must be between -90 and 90"},
		{"severity range", `{"latitude": 10, "longitude": 76, "severity": 9}`, "severity must be between 1 and 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.post(t, "/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestPredict_NotReady(t *testing.T) {
	f := newFixture(t, fixtureOpts{noModels: true})
	code, body := f.post(t, "/predict", `{"latitude": 10, "longitude": 76}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "model not loaded", body["error"])
}

func TestPredict_PredictorFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{predictor: fixedPredictor{err: fmt.Errorf("model server down")}})
	code, body := f.post(t, "/predict", `{"latitude": 10, "longitude": 76}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestPredictBatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/predict_batch", `{"locations": [
		{"latitude": 10.94, "longitude": 76.86},
		{"latitude": 11.20, "longitude": 77.10, "crime_type": "Theft"}
	]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["total_locations"])
	preds := body["predictions"].([]any)
	require.Len(t, preds, 2)
	second := preds[1].(map[string]any)
	assert.Equal(t, 1.0, second["location_index"])
	assert.Equal(t, "risky", second["prediction"])
	assert.Equal(t, "low", second["grid_tier"])
	assert.Equal(t, "Theft", second["input_data"].(map[string]any)["crime_type"])
}

func TestPredictBatch_Errors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", `{"locations": []}`, "locations must not be empty"},
		{"too large", `{"locations": [{"latitude":1,"longitude":1},{"latitude":1,"longitude":1},
			{"latitude":1,"longitude":1},{"latitude":1,"longitude":1}]}`, "batch size too large: maximum 3 locations"},
		{"missing coordinates", `{"locations": [{"latitude":1,"longitude":1},{"latitude":1}]}`,
			"location 1: latitude and longitude are required"},
		{"out of range", `{"locations": [{"latitude":1,"longitude":200}]}`, "location 0: longitude"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.post(t, "/predict_batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestCheckGridZone(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/check_grid_zone", `{"latitude": 10.94, "longitude": 76.86}`)
	require.Equal(t, http.StatusOK, code)
	ga := body["grid_analysis"].(map[string]any)
	assert.Equal(t, "high", ga["tier"])
	assert.Equal(t, true, ga["classified"])
	assert.Equal(t, 10.94, ga["latitude"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GridLookups.WithLabelValues("high")))

	code, body = f.post(t, "/check_grid_zone", `{"latitude": 40, "longitude": 70}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unknown", body["grid_analysis"].(map[string]any)["tier"])

	code, _ = f.post(t, "/check_grid_zone", `{"longitude": 70}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = newFixture(t, fixtureOpts{noGrid: true}).post(t, "/check_grid_zone", `{"latitude": 1, "longitude": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "grid not built", body["error"])
}

func TestNearbyRiskZones(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	code, body := f.post(t, "/nearby_risk_zones", `{"latitude": 10.94, "longitude": 76.86}`)
	require.Equal(t, http.StatusOK, code)
	na := body["nearby_analysis"].(map[string]any)
	assert.Equal(t, grid.DefaultRadiusKM, na["radius_km"])
	assert.Len(t, na["cells"], 1)

	code, body = f.post(t, "/nearby_risk_zones", `{"latitude": 10.94, "longitude": 76.86, "radius_km": 100}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["nearby_analysis"].(map[string]any)["cells"], 2)

	code, _ = f.post(t, "/nearby_risk_zones", `{"latitude": 10.94, "longitude": 76.86, "radius_km": -1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGridSummary(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.get(t, "/grid_summary")
	require.Equal(t, http.StatusOK, code)
	sum := body["grid_summary"].(map[string]any)
	assert.Equal(t, 2.0, sum["total_cells"])
	assert.Equal(t, 6.0, sum["total_incidents"])
	assert.Contains(t, body, "statistics")

	code, _ = newFixture(t, fixtureOpts{noGrid: true}).get(t, "/grid_summary")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestLiveSafetyCheck(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/live_safety_check",
		`{"latitude": 10.94, "longitude": 76.86, "user_id": "u-1"}`)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "u-1", body["user_id"])
	ra := body["risk_assessment"].(map[string]any)
	assert.Equal(t, "high", ra["grid_risk"])
	assert.Equal(t, "risky", ra["ml_prediction"])
	assert.Equal(t, 0.877, ra["ml_confidence"])
	assert.Equal(t, "critical", ra["final_risk_level"])

	n := body["notification"].(map[string]any)
	assert.Equal(t, "red", n["alert_color"])
	assert.Equal(t, true, n["should_notify"])
	assert.NotEmpty(t, n["message"])
	assert.NotEmpty(t, body["safety_recommendations"])

	ds := body["detailed_scores"].(map[string]any)
	assert.Equal(t, 0.123, ds["safe_score"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Assessments.WithLabelValues("critical")))
}

func TestLiveSafetyCheck_WithoutGrid(t *testing.T) {
	f := newFixture(t, fixtureOpts{noGrid: true})
	code, body := f.post(t, "/live_safety_check", `{"latitude": 10.94, "longitude": 76.86}`)
	require.Equal(t, http.StatusOK, code)
	ra := body["risk_assessment"].(map[string]any)
	assert.Equal(t, "unknown", ra["grid_risk"])
	assert.Equal(t, "high", ra["final_risk_level"])
	assert.Equal(t, "anonymous", body["user_id"])
}

func TestTrackUserJourney(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/track_user_journey", `{"user_id": "walker", "locations": [
		{"latitude": 11.20, "longitude": 77.10, "time": "21:00"},
		{"latitude": 10.94, "longitude": 76.86, "time": "21:05"}
	]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "walker", body["user_id"])

	sum := body["journey_summary"].(map[string]any)
	assert.Equal(t, 2.0, sum["total_points"])
	assert.Equal(t, 1.0, sum["high_risk_points"])
	assert.Equal(t, 1.0, sum["safe_points"])

	alerts := body["alerts"].([]any)
	require.Len(t, alerts, 1)
	alert := alerts[0].(map[string]any)
	assert.Equal(t, "high_risk_area", alert["alert_type"])
	assert.Equal(t, "High risk area detected at point 2", alert["message"])
	assert.Len(t, body["journey_analysis"], 2)
}

func TestTrackUserJourney_Errors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	code, body := f.post(t, "/track_user_journey", `{"user_id": "walker"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "locations array is required")

	code, _ = f.post(t, "/track_user_journey", `{"locations": [{"latitude": 100, "longitude": 0}]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = newFixture(t, fixtureOpts{noGrid: true}).post(t, "/track_user_journey",
		`{"locations": [{"latitude": 1, "longitude": 1}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestFeedback(t *testing.T) {
	f := newFixture(t, fixtureOpts{withStore: true})
	code, body := f.post(t, "/feedback", `{"verdict": "bad", "incident": {
		"category": "Robbery", "latitude": 11.2, "longitude": 77.1, "severity": 4,
		"date": "2024-03-03", "time": "22:00", "station": "East"}}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "recorded", body["status"])
	assert.NotEmpty(t, body["id"])

	pending, err := f.store.PendingFeedback(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.VerdictBad, pending[0].Verdict)
	assert.Equal(t, "Robbery", pending[0].Incident.Category)

	code, body = f.post(t, "/feedback", `{"verdict": "meh", "incident": {}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "verdict must be good or bad")

	code, _ = f.post(t, "/feedback", `{"verdict": "good", "incident": {"category": "Theft", "latitude": 300}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFeedback_DisabledWithoutStore(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	resp, err := http.Post(f.srv.URL+"/feedback", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.get(t, "/health")
	f.post(t, "/predict", `{"latitude": 95, "longitude": 0}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Requests.WithLabelValues("/predict", "400")))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "riskgrid_http_requests_total")
}

func TestCORS(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/predict", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
