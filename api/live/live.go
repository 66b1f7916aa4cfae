// Package live exposes the re-dispatch engine over HTTP: fleet updates,
// order intake, driver events, SLA health and the at-risk alert stream.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/redispatch"
)

// Engine is the part of the re-dispatch engine the handlers use.
type Engine interface {
	UpsertPickup(p model.PickupPoint) error
	UpsertVehicle(v model.Vehicle) error
	SubmitOrder(ctx context.Context, o model.DeliveryOrder) (redispatch.Report, error)
	SetDriverStatus(ctx context.Context, vehicleID string, available bool) (redispatch.Report, error)
	MarkPickedUp(vehicleID, orderID string) error
	CompleteDelivery(ctx context.Context, vehicleID, orderID string) error
	Snapshot() redispatch.State
	SLAStatus(now time.Time) redispatch.SLAReport
}

// Handler serves the live endpoints.
type Handler struct {
	engine Engine
	now    func() time.Time
}

// NewHandler returns a Handler for engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine, now: time.Now}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/fleet", h.fleet)
	mux.HandleFunc("POST /api/orders", h.submit)
	mux.HandleFunc("PUT /api/vehicles/{id}/availability", h.availability)
	mux.HandleFunc("POST /api/vehicles/{id}/orders/{order}/pickup", h.pickup)
	mux.HandleFunc("POST /api/vehicles/{id}/orders/{order}/complete", h.complete)
	mux.HandleFunc("GET /api/state", h.state)
	mux.HandleFunc("GET /api/sla", h.sla)
}

type fleetBody struct {
	Vehicles     []model.Vehicle     `json:"vehicles"`
	PickupPoints []model.PickupPoint `json:"pickupPoints"`
}

func (h *Handler) fleet(w http.ResponseWriter, r *http.Request) {
	var body fleetBody
	if !decode(w, r, &body) {
		return
	}
	for _, p := range body.PickupPoints {
		if err := h.engine.UpsertPickup(p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	for _, v := range body.Vehicles {
		if err := h.engine.UpsertVehicle(v); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var o model.DeliveryOrder
	if !decode(w, r, &o) {
		return
	}
	rep, err := h.engine.SubmitOrder(r.Context(), o)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}

type availabilityBody struct {
	Available bool `json:"available"`
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if !decode(w, r, &body) {
		return
	}
	rep, err := h.engine.SetDriverStatus(r.Context(), r.PathValue("id"), body.Available)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.MarkPickedUp(r.PathValue("id"), r.PathValue("order")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CompleteDelivery(r.Context(), r.PathValue("id"), r.PathValue("order")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) sla(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if s := r.URL.Query().Get("at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "invalid at: expected RFC3339", http.StatusBadRequest)
			return
		}
		now = t
	}
	writeJSON(w, http.StatusOK, h.engine.SLAStatus(now))
}

func statusFor(err error) int {
	var ve *model.ValidationError
	switch {
	case errors.Is(err, redispatch.ErrUnknownVehicle), errors.Is(err, redispatch.ErrUnknownStop):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
