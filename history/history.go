// Package history stores conversation turns so later prompts from the same
// user can carry recent context, and so replies to the bot can be resolved
// back to the exchange they answer.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxResponse is the largest response (in characters) that is persisted.
const DefaultMaxResponse = 10000

// Turn is one answered prompt.
type Turn struct {
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the Postgres-backed conversation store.
type Store struct {
	DB          *sql.DB
	MaxResponse int
}

// New returns a Store over db with the given response cap (DefaultMaxResponse when <= 0).
func New(db *sql.DB, maxResponse int) *Store {
	if maxResponse <= 0 {
		maxResponse = DefaultMaxResponse
	}
	return &Store{DB: db, MaxResponse: maxResponse}
}

// Fits reports whether a response is small enough to persist under limit.
func Fits(response string, limit int) bool {
	return utf8.RuneCountInString(response) <= limit
}

// Append persists turn. Oversized responses are skipped and reported as stored=false.
func (s *Store) Append(ctx context.Context, turn Turn) (bool, error) {
	if !Fits(turn.Response, s.MaxResponse) {
		return false, nil
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO history (user_id, prompt, response, created_at, model) VALUES ($1, $2, $3, $4, $5)`,
		turn.UserID, turn.Prompt, turn.Response, turn.CreatedAt.UTC(), turn.Model)
	if err != nil {
		return false, fmt.Errorf("append history for %s: %w", turn.UserID, err)
	}
	return true, nil
}

// Recent returns up to limit of the user's newest turns, oldest first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, prompt, response, COALESCE(model, ''), created_at
		 FROM history WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history for %s: %w", userID, err)
	}
	defer rows.Close()
	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.UserID, &t.Prompt, &t.Response, &t.Model, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(turns)
	return turns, nil
}

// FindByResponse returns the turn whose stored response equals text exactly,
// or nil when there is none. Duplicates resolve to the earliest stored turn.
func (s *Store) FindByResponse(ctx context.Context, text string) (*Turn, error) {
	var t Turn
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, prompt, response, COALESCE(model, ''), created_at
		 FROM history WHERE md5(response) = md5($1) AND response = $1 ORDER BY id LIMIT 1`, text).
		Scan(&t.UserID, &t.Prompt, &t.Response, &t.Model, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find history by response: %w", err)
	}
	return &t, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Flatten replaces each line break with a single space, the way single-line
// chat transports render a multi-line answer.
func Flatten(s string) string {
	return lineBreaks.Replace(s)
}

// FindByFlattened returns the earliest turn whose flattened response contains
// text, or nil when there is none. text is one delivered chat line, so it may
// be any chunk of a longer answer.
func (s *Store) FindByFlattened(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var t Turn
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, prompt, response, COALESCE(model, ''), created_at
		 FROM history WHERE strpos(regexp_replace(response, E'\r\n|\r|\n', ' ', 'g'), $1) > 0
		 ORDER BY id LIMIT 1`, text).
		Scan(&t.UserID, &t.Prompt, &t.Response, &t.Model, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find history by flattened response: %w", err)
	}
	return &t, nil
}

// Clear deletes every turn of userID and returns how many were removed.
func (s *Store) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM history WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear history for %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
