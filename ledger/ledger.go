// Package ledger is the append-only record of upstream model outcomes.
// Every attempt that ends a model's turn in a dispatch (success or hard
// failure) becomes one row in model_usage; the rows are only ever aggregated.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one recorded model outcome.
type Event struct {
	Model      string
	Success    bool
	OccurredAt time.Time
}

// ModelStats summarizes one model's history.
type ModelStats struct {
	Model     string  `json:"model"`
	Successes int64   `json:"successes"`
	Total     int64   `json:"total"`
	Rate      float64 `json:"rate"` // percent, two decimals
}

// Store is the Postgres-backed ledger.
type Store struct {
	DB *sql.DB
}

// New returns a Store over db.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// Record appends one event.
func (s *Store) Record(ctx context.Context, model string, success bool, at time.Time) error {
	if model == "" {
		return fmt.Errorf("record usage: empty model")
	}
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO model_usage (model, success, used_at) VALUES ($1, $2, $3)`, model, success, at.UTC()); err != nil {
		return fmt.Errorf("record usage for %s: %w", model, err)
	}
	return nil
}

// SuccessRates returns successes/attempts per model over the full history.
// Models without events are absent.
func (s *Store) SuccessRates(ctx context.Context) (map[string]float64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT model, COUNT(*) FILTER (WHERE success), COUNT(*) FROM model_usage GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	defer rows.Close()
	rates := make(map[string]float64)
	for rows.Next() {
		var model string
		var ok, total int64
		if err := rows.Scan(&model, &ok, &total); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if total > 0 {
			rates[model] = float64(ok) / float64(total)
		}
	}
	return rates, rows.Err()
}

// Stats lists every model with at least one event, best rate first.
func (s *Store) Stats(ctx context.Context) ([]ModelStats, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT model,
		       COUNT(*) FILTER (WHERE success) AS ok,
		       COUNT(*) AS total,
		       ROUND(COUNT(*) FILTER (WHERE success) * 100.0 / COUNT(*), 2) AS rate
		FROM model_usage
		GROUP BY model
		ORDER BY rate DESC, model ASC`)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	defer rows.Close()
	var out []ModelStats
	for rows.Next() {
		var st ModelStats
		if err := rows.Scan(&st.Model, &st.Successes, &st.Total, &st.Rate); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
