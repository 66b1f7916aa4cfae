// Package api assembles the HTTP surface of the service.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/lastmile/api/dispatch"
	"github.com/kilianp07/lastmile/api/live"
	"github.com/kilianp07/lastmile/api/vehicles"
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/logger"
	vehiclestatus "github.com/kilianp07/lastmile/core/vehiclestatus"
)

// Deps are the collaborators behind the routes. Nil members disable the
// routes that need them.
type Deps struct {
	Optimizer   dispatch.Optimizer
	Logs        logging.LogStore
	LogsToken   string
	Status      vehiclestatus.Store
	Engine      live.Engine
	Alerts      live.AlertSource
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Log         logger.Logger
}

// NewMux returns the routes of the service.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	if d.Optimizer != nil {
		mux.Handle("POST /api/optimize", dispatch.NewOptimizeHandler(d.Optimizer))
	}
	if d.Logs != nil {
		mux.Handle("GET /api/assignments/logs", dispatch.NewLogHandler(d.Logs, d.LogsToken))
	}
	if d.Status != nil {
		mux.Handle("GET /api/vehicles/status", vehicles.NewStatusHandler(d.Status))
	}
	if d.Engine != nil {
		live.NewHandler(d.Engine).Register(mux)
	}
	if d.Alerts != nil {
		mux.Handle("GET /api/alerts/stream", live.NewAlertStream(d.Alerts, d.Log))
	}
	if d.Gatherer != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
