package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"

	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/features"
	"github.com/empowerher/riskgrid/internal/grid"
	"github.com/empowerher/riskgrid/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps err onto a status code. Validation problems are the
// caller's fault; a missing grid or model means the server is not ready.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error()})
	case errors.Is(err, grid.ErrNotBuilt):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "grid not built"})
	case errors.Is(err, features.ErrNotFitted):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "model not loaded"})
	default:
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

// decode reads a JSON body into dst. An empty body is a validation error.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid("no data provided")
		}
		return invalid("invalid request body: " + err.Error())
	}
	return nil
}

func invalid(problems ...string) error {
	return &model.ValidationError{Problems: problems}
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
