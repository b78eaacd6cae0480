package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/empowerher/riskgrid/internal/assess"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/model"
)

// queryRequest is the body of the prediction and live check routes.
// Coordinates are pointers so a missing field is told apart from zero.
type queryRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Time      string   `json:"time"`
	Date      string   `json:"date"`
	Severity  int      `json:"severity"`
	Category  string   `json:"crime_type"`
	UserID    string   `json:"user_id"`
}

func (q queryRequest) query() (assess.Query, error) {
	if q.Latitude == nil || q.Longitude == nil {
		return assess.Query{}, invalid("latitude and longitude are required")
	}
	return assess.Query{
		Latitude:  *q.Latitude,
		Longitude: *q.Longitude,
		Time:      q.Time,
		Date:      q.Date,
		Severity:  q.Severity,
		Category:  q.Category,
		UserID:    q.UserID,
	}, nil
}

type pointRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RadiusKM  *float64 `json:"radius_km"`
}

func (p pointRequest) point() (lat, lon float64, err error) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, invalid("latitude and longitude are required")
	}
	if err := model.ValidateCoordinates(*p.Latitude, *p.Longitude); err != nil {
		return 0, 0, err
	}
	return *p.Latitude, *p.Longitude, nil
}

type inputData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Time      string  `json:"time"`
	Date      string  `json:"date"`
	Severity  int     `json:"severity"`
	Category  string  `json:"crime_type"`
}

type scores struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	RiskScore  float64 `json:"risk_score"`
	SafeScore  float64 `json:"safe_score"`
}

func scoresOf(p assess.Prediction) scores {
	return scores{
		Prediction: p.Label.String(),
		Confidence: round3(p.Confidence),
		RiskScore:  round3(p.RiskScore),
		SafeScore:  round3(p.SafeScore),
	}
}

func inputOf(q assess.Query) inputData {
	return inputData{
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		Time:      q.Time,
		Date:      q.Date,
		Severity:  q.Severity,
		Category:  q.Category,
	}
}

type healthResponse struct {
	Status             string    `json:"status"`
	ModelLoaded        bool      `json:"model_loaded"`
	PreprocessorLoaded bool      `json:"preprocessor_loaded"`
	GridLoaded         bool      `json:"grid_loaded"`
	Timestamp          time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	gridReady, _ := s.svc.Ready()
	m := s.svc.Models()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "healthy",
		ModelLoaded:        m != nil && m.Predictor != nil,
		PreprocessorLoaded: m != nil && m.Encoder != nil && m.Encoder.Fitted(),
		GridLoaded:         gridReady,
		Timestamp:          s.now(),
	})
}

type modelInfoResponse struct {
	ModelType          string    `json:"model_type"`
	ModelLoaded        bool      `json:"model_loaded"`
	PreprocessorLoaded bool      `json:"preprocessor_loaded"`
	FeatureNames       []string  `json:"feature_names"`
	Timestamp          time.Time `json:"timestamp"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	m := s.svc.Models()
	if m == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no model loaded"})
		return
	}
	writeJSON(w, http.StatusOK, modelInfoResponse{
		ModelType:          fmt.Sprintf("%T", m.Predictor),
		ModelLoaded:        true,
		PreprocessorLoaded: m.Encoder.Fitted(),
		FeatureNames:       m.Encoder.Names(),
		Timestamp:          s.now(),
	})
}

func (s *Server) handleExampleRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"example_request": inputData{
			Latitude:  10.9467,
			Longitude: 76.8653,
			Time:      "04:00",
			Severity:  4,
			Category:  "Sexual Harassment",
		},
		"description": "Send a POST request to /predict with this JSON format",
	})
}

type predictResponse struct {
	scores
	InputData inputData `json:"input_data"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := req.query()
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.svc.Predict(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{
		scores:    scoresOf(p),
		InputData: inputOf(p.Query),
		Timestamp: s.now(),
	})
}

type batchRequest struct {
	Locations []queryRequest `json:"locations"`
}

type batchItem struct {
	LocationIndex int `json:"location_index"`
	scores
	GridTier  model.Tier `json:"grid_tier"`
	InputData inputData  `json:"input_data"`
}

type batchResponse struct {
	Predictions    []batchItem `json:"predictions"`
	TotalLocations int         `json:"total_locations"`
	Timestamp      time.Time   `json:"timestamp"`
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	queries := make([]assess.Query, len(req.Locations))
	for i, loc := range req.Locations {
		q, err := loc.query()
		if err != nil {
			writeError(w, r, invalid(fmt.Sprintf("location %d: latitude and longitude are required", i)))
			return
		}
		queries[i] = q
	}

	results, err := s.svc.AssessBatch(r.Context(), queries)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := batchResponse{
		Predictions:    make([]batchItem, len(results)),
		TotalLocations: len(results),
		Timestamp:      s.now(),
	}
	for i, a := range results {
		resp.Predictions[i] = batchItem{
			LocationIndex: i,
			scores:        scoresOf(a.Prediction),
			GridTier:      a.GridTier,
			InputData:     inputOf(a.Query),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type gridAnalysis struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	grid.CellInfo
}

func (s *Server) handleCheckGridZone(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lat, lon, err := req.point()
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.svc.Grid().Lookup(lat, lon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.GridLookups.WithLabelValues(string(info.Tier)).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grid_analysis": gridAnalysis{Latitude: lat, Longitude: lon, CellInfo: info},
		"timestamp":     s.now(),
	})
}

func (s *Server) handleNearbyRiskZones(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lat, lon, err := req.point()
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius := s.radiusKM
	if req.RadiusKM != nil {
		radius = *req.RadiusKM
	}
	res, err := s.svc.Grid().Nearby(lat, lon, radius)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nearby_analysis": res,
		"timestamp":       s.now(),
	})
}

func (s *Server) handleGridSummary(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Grid().Current()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grid_summary": t.Summary(),
		"statistics":   t.Statistics(),
		"timestamp":    s.now(),
	})
}

type liveLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type riskAssessment struct {
	GridRisk       model.Tier      `json:"grid_risk"`
	MLPrediction   string          `json:"ml_prediction"`
	MLConfidence   float64         `json:"ml_confidence"`
	FinalRiskLevel model.RiskLevel `json:"final_risk_level"`
}

type notification struct {
	Message      string `json:"message"`
	AlertColor   string `json:"alert_color"`
	ShouldNotify bool   `json:"should_notify"`
}

type detailedScores struct {
	RiskScore float64 `json:"risk_score"`
	SafeScore float64 `json:"safe_score"`
}

type liveCheckResponse struct {
	UserID                string         `json:"user_id"`
	Location              liveLocation   `json:"location"`
	RiskAssessment        riskAssessment `json:"risk_assessment"`
	Notification          notification   `json:"notification"`
	SafetyRecommendations []string       `json:"safety_recommendations"`
	DetailedScores        detailedScores `json:"detailed_scores"`
}

func (s *Server) handleLiveSafetyCheck(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := req.query()
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.svc.Check(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liveCheckResponse{
		UserID: a.Query.UserID,
		Location: liveLocation{
			Latitude:  a.Query.Latitude,
			Longitude: a.Query.Longitude,
			Timestamp: a.Timestamp,
		},
		RiskAssessment: riskAssessment{
			GridRisk:       a.GridTier,
			MLPrediction:   a.Label.String(),
			MLConfidence:   round3(max(a.RiskScore, a.SafeScore)),
			FinalRiskLevel: a.Result.Level,
		},
		Notification: notification{
			Message:      a.Result.Message,
			AlertColor:   a.Result.Color,
			ShouldNotify: a.Result.ShouldNotify,
		},
		SafetyRecommendations: a.Recommendations,
		DetailedScores: detailedScores{
			RiskScore: round3(a.RiskScore),
			SafeScore: round3(a.SafeScore),
		},
	})
}

type journeyRequest struct {
	UserID    string             `json:"user_id"`
	Locations []model.TrackPoint `json:"locations"`
}

type journeyResponse struct {
	assess.Journey
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleTrackUserJourney(w http.ResponseWriter, r *http.Request) {
	var req journeyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Locations) == 0 {
		writeError(w, r, invalid("locations array is required"))
		return
	}
	j, err := s.svc.Journey(req.UserID, req.Locations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, journeyResponse{Journey: j, Timestamp: s.now()})
}

type feedbackRequest struct {
	Incident model.Incident `json:"incident"`
	Verdict  model.Verdict  `json:"verdict"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Verdict != model.VerdictGood && req.Verdict != model.VerdictBad {
		writeError(w, r, invalid("verdict must be good or bad"))
		return
	}
	// Feedback rows may arrive without an id; one is assigned on refresh.
	probe := req.Incident
	if probe.ID == "" {
		probe.ID = "pending"
	}
	if err := model.Validate(probe); err != nil {
		writeError(w, r, err)
		return
	}

	fb, err := s.store.RecordFeedback(r.Context(), req.Incident, req.Verdict)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        fb.ID,
		"status":    "recorded",
		"timestamp": s.now(),
	})
}
