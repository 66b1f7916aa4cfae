// Package factory provides the generic registry used to build pluggable
// backends (target stores, metrics sinks) from configuration. A backend is
// selected by a type string and receives a map of raw settings that it
// decodes with Decode.
//
// Example usage:
//
//	reg := factory.NewRegistry[targets.Store]()
//	reg.Register("sqlite", func(conf map[string]any) (targets.Store, error) {
//	    var c struct{ DSN string `json:"dsn"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return targetstore.NewSQLiteStore(c.DSN)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": "targets.db"}})
package factory
