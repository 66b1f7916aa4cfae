package targetstore

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/targets"
)

const connectTimeout = 5 * time.Second

// init registers the durable stores.
func init() {
	_ = targets.RegisterStore("sqlite", func(conf map[string]any) (targets.Store, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			c.Path = "targets.db"
		}
		return NewSQLiteStore(c.Path)
	})

	_ = targets.RegisterStore("postgres", func(conf map[string]any) (targets.Store, error) {
		var c struct {
			DSN string `json:"dsn"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.DSN == "" {
			return nil, errors.New("postgres target store: dsn is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return NewPostgresStore(ctx, c.DSN)
	})

	_ = targets.RegisterStore("redis", func(conf map[string]any) (targets.Store, error) {
		var c struct {
			URL    string `json:"url"`
			Prefix string `json:"prefix"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.URL == "" {
			c.URL = "redis://localhost:6379/0"
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return NewRedisStore(ctx, c.URL, c.Prefix)
	})
}
