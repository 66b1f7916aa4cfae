// Package plugins registers the pluggable backends the service selects by
// name. Importing it also links the infra adapters whose init functions
// register routing services, advisors, target stores and metrics sinks.
package plugins

import (
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/factory"

	_ "github.com/kilianp07/lastmile/infra/advisor"
	_ "github.com/kilianp07/lastmile/infra/metrics"
	_ "github.com/kilianp07/lastmile/infra/routing"
	_ "github.com/kilianp07/lastmile/infra/targetstore"
)

var logStores = factory.NewRegistry[logging.LogStore]()

// RegisterLogStore adds an assignment log store factory.
func RegisterLogStore(name string, f factory.Factory[logging.LogStore]) error {
	return logStores.Register(name, f)
}

// NewLogStore creates the configured assignment log store.
func NewLogStore(cfg factory.ModuleConfig) (logging.LogStore, error) {
	return logStores.Create(cfg)
}

// LogStoreTypes lists the registered log store names.
func LogStoreTypes() []string { return logStores.Types() }
