// Package targetstore provides durable backends for driver targets.
package targetstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/targets"
)

const schema = `CREATE TABLE IF NOT EXISTS driver_targets (
    driver_id TEXT PRIMARY KEY,
    target_deliveries INTEGER NOT NULL DEFAULT 0,
    target_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_deliveries INTEGER NOT NULL DEFAULT 0,
    current_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_reset_at BIGINT NOT NULL DEFAULT 0,
    updated_at BIGINT NOT NULL DEFAULT 0
)`

const upsert = `INSERT INTO driver_targets
    (driver_id, target_deliveries, target_revenue, current_deliveries, current_revenue, last_reset_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (driver_id) DO UPDATE SET
        target_deliveries = excluded.target_deliveries,
        target_revenue = excluded.target_revenue,
        current_deliveries = excluded.current_deliveries,
        current_revenue = excluded.current_revenue,
        last_reset_at = excluded.last_reset_at,
        updated_at = excluded.updated_at`

// SQLStore keeps driver targets in a SQL table. The same schema serves
// SQLite and Postgres; only the placeholder style differs.
type SQLStore struct {
	db     *sql.DB
	dollar bool
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	return newSQLStore(context.Background(), db, false)
}

// NewPostgresStore connects through the pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, true)
}

func newSQLStore(ctx context.Context, db *sql.DB, dollar bool) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db, dollar: dollar}, nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load returns the saved target or targets.ErrNotFound.
func (s *SQLStore) Load(ctx context.Context, driverID string) (model.DriverTarget, error) {
	t := model.DriverTarget{DriverID: driverID}
	var reset, updated int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT target_deliveries, target_revenue, current_deliveries,
        current_revenue, last_reset_at, updated_at FROM driver_targets WHERE driver_id = ?`), driverID).
		Scan(&t.TargetDeliveries, &t.TargetRevenue, &t.CurrentDeliveries, &t.CurrentRevenue, &reset, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriverTarget{}, targets.ErrNotFound
	}
	if err != nil {
		return model.DriverTarget{}, fmt.Errorf("load target %s: %w", driverID, err)
	}
	t.LastResetAt = fromNanos(reset)
	t.UpdatedAt = fromNanos(updated)
	return t, nil
}

// Save upserts t.
func (s *SQLStore) Save(ctx context.Context, t model.DriverTarget) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsert), t.DriverID, t.TargetDeliveries, t.TargetRevenue,
		t.CurrentDeliveries, t.CurrentRevenue, toNanos(t.LastResetAt), toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save target %s: %w", t.DriverID, err)
	}
	return nil
}

// List returns every stored driver id in order.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT driver_id FROM driver_targets ORDER BY driver_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
