package vehicles

import (
	"encoding/json"
	"net/http"
	"strconv"

	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
)

// NewStatusHandler returns an HTTP handler exposing vehicle status data via
// GET /api/vehicles/status. The pickup_id, status and available query
// parameters filter the listing.
func NewStatusHandler(store vehiclestatus.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f := vehiclestatus.Filter{
			PickupID: r.URL.Query().Get("pickup_id"),
			Status:   r.URL.Query().Get("status"),
		}
		if s := r.URL.Query().Get("available"); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				http.Error(w, "invalid available flag", http.StatusBadRequest)
				return
			}
			f.Available = &b
		}
		entries := store.List(f)
		if entries == nil {
			entries = []vehiclestatus.Status{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
