package plugins

import (
	"github.com/kilianp07/lastmile/core/dispatch/logging"
	"github.com/kilianp07/lastmile/core/factory"
)

type logStoreConf struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

func init() {
	_ = RegisterLogStore("jsonl", func(conf map[string]any) (logging.LogStore, error) {
		var lc logStoreConf
		if err := factory.Decode(conf, &lc); err != nil {
			return nil, err
		}
		if lc.MaxSizeMB > 0 {
			return logging.NewRotatingJSONLStore(lc.Path, lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays)
		}
		return logging.NewJSONLStore(lc.Path)
	})
	_ = RegisterLogStore("sqlite", func(conf map[string]any) (logging.LogStore, error) {
		var lc logStoreConf
		if err := factory.Decode(conf, &lc); err != nil {
			return nil, err
		}
		return logging.NewSQLiteStore(lc.Path)
	})
}
