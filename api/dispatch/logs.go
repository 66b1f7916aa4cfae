package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/lastmile/core/dispatch/logging"
)

// NewLogHandler returns an HTTP handler exposing assignment logs via
// GET /api/assignments/logs. Requests must include an Authorization header
// with "Bearer <token>" when token is non-empty.
func NewLogHandler(store logging.LogStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		q := logging.LogQuery{}
		for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
			s := r.URL.Query().Get(name)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				http.Error(w, "invalid "+name+": expected RFC3339", http.StatusBadRequest)
				return
			}
			*dst = t
		}
		q.VehicleID = r.URL.Query().Get("vehicle_id")
		q.OrderID = r.URL.Query().Get("order_id")
		q.Source = r.URL.Query().Get("source")
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []logging.LogRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
