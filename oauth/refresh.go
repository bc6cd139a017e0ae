// Package oauth keeps the bot's stored chat token fresh. It performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onnwee/yuka/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenRepo reads and writes one provider's token.
type TokenRepo interface {
	Get(ctx context.Context, provider string) (db.Token, error)
	Upsert(ctx context.Context, provider string, tok db.Token) error
}

// Options tune StartRefresher. Zero values pick the defaults.
type Options struct {
	Interval time.Duration // how often to wake up and check (default 5m)
	Window   time.Duration // refresh when remaining lifetime <= window (default 15m)
	// OnRefresh receives the new token after it is persisted.
	OnRefresh func(db.Token)
}

// RefreshIfDue refreshes provider's token when it expires within window.
// It reports whether a refresh happened.
func RefreshIfDue(ctx context.Context, repo TokenRepo, provider string, window time.Duration, fn RefreshFunc) (db.Token, bool, error) {
	tok, err := repo.Get(ctx, provider)
	if err != nil {
		return db.Token{}, false, fmt.Errorf("load %s token: %w", provider, err)
	}
	if tok.Refresh == "" || tok.Expiry.IsZero() {
		return tok, false, nil
	}
	// If still outside window skip quickly
	if time.Until(tok.Expiry) > window {
		return tok, false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := fn(ctx2, tok.Refresh)
	cancel()
	if err != nil {
		return tok, false, fmt.Errorf("refresh %s token: %w", provider, err)
	}
	if newRT == "" {
		newRT = tok.Refresh
	}
	if newScope == "" {
		newScope = tok.Scope
	}
	fresh := db.Token{Access: newAT, Refresh: newRT, Expiry: newExp, Scope: strings.TrimSpace(newScope)}
	if err := repo.Upsert(ctx, provider, fresh); err != nil {
		return tok, false, fmt.Errorf("persist %s token: %w", provider, err)
	}
	return fresh, true, nil
}

// StartRefresher launches a goroutine that periodically checks a stored token and refreshes it.
func StartRefresher(ctx context.Context, repo TokenRepo, provider string, opts Options, fn RefreshFunc) {
	interval, window := opts.Interval, opts.Window
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresher"), slog.String("provider", provider))
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			tok, refreshed, err := RefreshIfDue(ctx, repo, provider, window, fn)
			switch {
			case err != nil:
				log.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				log.Info("token refreshed", slog.Time("expires_at", tok.Expiry))
				if opts.OnRefresh != nil {
					opts.OnRefresh(tok)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep(interval)):
			}
		}
	}()
}

// nextSleep adds ±20% jitter to interval, never going below half of it.
func nextSleep(interval time.Duration) time.Duration {
	jitterRange := int64(interval / 5)
	if jitterRange <= 0 {
		return interval
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
	return max(interval+jitter, interval/2)
}
