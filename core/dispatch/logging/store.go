// Package logging persists the history of assignment decisions.
package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// LogRecord captures one optimisation run or re-dispatch pass.
type LogRecord struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	// Source is "optimize" or "redispatch:<trigger>".
	Source   string `json:"source"`
	Strategy string `json:"strategy"`
	// Assignments maps order id to vehicle id.
	Assignments map[string]string `json:"assignments"`
	// Scores maps order id to the winning score.
	Scores map[string]float64 `json:"scores,omitempty"`
	// Unassigned maps order id to the reason it was left out.
	Unassigned map[string]string `json:"unassigned,omitempty"`
	Degraded   model.Degraded    `json:"degraded"`
	Summary    model.Summary     `json:"summary"`
}

// Vehicles returns the sorted ids of vehicles that received orders.
func (r LogRecord) Vehicles() []string {
	seen := map[string]struct{}{}
	for _, v := range r.Assignments {
		seen[v] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LogQuery defines filters for retrieving records. Zero fields match all.
type LogQuery struct {
	Start     time.Time
	End       time.Time
	VehicleID string
	OrderID   string
	Source    string
}

// Matches reports whether r passes every filter of q.
func (q LogQuery) Matches(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Source != "" && r.Source != q.Source {
		return false
	}
	if q.OrderID != "" {
		_, assigned := r.Assignments[q.OrderID]
		_, left := r.Unassigned[q.OrderID]
		if !assigned && !left {
			return false
		}
	}
	if q.VehicleID != "" {
		found := false
		for _, v := range r.Assignments {
			if v == q.VehicleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// scanJSONL appends the matching records of a JSONL stream to out.
// Malformed lines are skipped.
func scanJSONL(r io.Reader, q LogQuery, out []LogRecord) ([]LogRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, scanner.Err()
}

func sortByTime(recs []LogRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
}
