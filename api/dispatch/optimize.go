// Package dispatch exposes optimisation runs and their history over HTTP.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilianp07/lastmile/core/model"
)

// Optimizer runs one optimisation request.
type Optimizer interface {
	Optimize(ctx context.Context, req model.Request) (model.Response, error)
}

// maxBody bounds request documents.
const maxBody = 8 << 20

// NewOptimizeHandler serves POST /api/optimize.
func NewOptimizeHandler(opt Optimizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req model.Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := opt.Optimize(r.Context(), req)
		if err != nil {
			WriteError(w, StatusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var ve *model.ValidationError
	switch {
	case errors.Is(err, model.ErrNoVehicles):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON document.
func WriteError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}
