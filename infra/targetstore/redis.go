package targetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/targets"
)

// RedisStore keeps one JSON document per driver plus a set of known ids.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to the server described by url
// (redis://host:port/db) and checks it answers.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "lastmile:targets"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + ":" + id }
func (s *RedisStore) index() string       { return s.prefix + ":ids" }

// Load returns the saved target or targets.ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, driverID string) (model.DriverTarget, error) {
	b, err := s.rdb.Get(ctx, s.key(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.DriverTarget{}, targets.ErrNotFound
	}
	if err != nil {
		return model.DriverTarget{}, fmt.Errorf("load target %s: %w", driverID, err)
	}
	var t model.DriverTarget
	if err := json.Unmarshal(b, &t); err != nil {
		return model.DriverTarget{}, fmt.Errorf("decode target %s: %w", driverID, err)
	}
	return t, nil
}

// Save writes t and records its id in one transaction.
func (s *RedisStore) Save(ctx context.Context, t model.DriverTarget) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(t.DriverID), b, 0)
		p.SAdd(ctx, s.index(), t.DriverID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save target %s: %w", t.DriverID, err)
	}
	return nil
}

// List returns every known driver id in order.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.rdb.Close() }
