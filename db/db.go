// Package db provides database connection helpers, schema migration, and the
// oauth token rows used by the chat bot.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/yuka/crypto"
)

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(10)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
// It is the fallback for deployments whose schema predates versioned migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Older installs were created before turns remembered which model answered.
		`ALTER TABLE history ADD COLUMN IF NOT EXISTS model TEXT`,
		`CREATE TABLE IF NOT EXISTS model_usage (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_id ON history(user_id, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_history_response_hash ON history(md5(response))`,
		`CREATE INDEX IF NOT EXISTS idx_model_usage_model ON model_usage(model)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Token is a stored chat-platform credential.
type Token struct {
	Access  string
	Refresh string
	Expiry  time.Time
	Scope   string
}

// TokenStore persists oauth tokens, sealing them when a Sealer is configured.
type TokenStore struct {
	DB     *sql.DB
	Sealer crypto.Sealer
}

// Upsert stores or replaces the token row for provider.
// encryption_version=1 marks sealed values, 0 marks plaintext.
func (s *TokenStore) Upsert(ctx context.Context, provider string, tok Token) error {
	access, refresh := tok.Access, tok.Refresh
	version := 0
	if s.Sealer != nil {
		version = 1
		var err error
		if access, err = s.Sealer.Seal(access); err != nil {
			return fmt.Errorf("seal access token: %w", err)
		}
		if refresh, err = s.Sealer.Seal(refresh); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			updated_at=NOW()`,
		provider, access, refresh, tok.Expiry, tok.Scope, version)
	return err
}

// Get returns the token row for provider, or a zero Token when none is stored.
// Plaintext rows written before sealing was enabled are still readable.
func (s *TokenStore) Get(ctx context.Context, provider string) (Token, error) {
	var tok Token
	var access, refresh, scope sql.NullString
	var expiry sql.NullTime
	var version int
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&access, &refresh, &expiry, &scope, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, nil
	}
	if err != nil {
		return Token{}, err
	}
	tok = Token{Access: access.String, Refresh: refresh.String, Expiry: expiry.Time, Scope: scope.String}
	if version == 1 {
		if s.Sealer == nil {
			return Token{}, fmt.Errorf("token for %s is sealed but ENCRYPTION_KEY is not configured", provider)
		}
		if tok.Access, err = s.Sealer.Open(tok.Access); err != nil {
			return Token{}, fmt.Errorf("open access token: %w", err)
		}
		if tok.Refresh, err = s.Sealer.Open(tok.Refresh); err != nil {
			return Token{}, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return tok, nil
}

// NewTokenStore builds a TokenStore, enabling sealing when key is non-empty.
func NewTokenStore(db *sql.DB, key string) (*TokenStore, error) {
	ts := &TokenStore{DB: db}
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, chat tokens will be stored in plaintext", slog.String("component", "db_tokens"))
		return ts, nil
	}
	sealer, err := crypto.NewAESSealer(key)
	if err != nil {
		return nil, fmt.Errorf("init token sealing: %w", err)
	}
	ts.Sealer = sealer
	return ts, nil
}

// SealPlaintext re-writes every plaintext token row through the sealer and
// returns the affected providers. With dryRun set nothing is written.
func (s *TokenStore) SealPlaintext(ctx context.Context, dryRun bool) ([]string, error) {
	if s.Sealer == nil {
		return nil, errors.New("sealing requires ENCRYPTION_KEY")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return nil, err
		}
		providers = append(providers, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if dryRun {
		return providers, nil
	}
	plain := &TokenStore{DB: s.DB}
	for _, p := range providers {
		tok, err := plain.Get(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read %s token: %w", p, err)
		}
		if err := s.Upsert(ctx, p, tok); err != nil {
			return nil, fmt.Errorf("seal %s token: %w", p, err)
		}
	}
	return providers, nil
}
