// Package twitchapi contains the small set of Twitch identity calls the chat bot needs:
// refreshing its user token and validating it at startup.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Refresher exchanges refresh tokens through the Twitch token endpoint.
type Refresher struct {
	Config     oauth2.Config
	HTTPClient *http.Client
}

// NewRefresher builds a refresher for the bot's application credentials.
func NewRefresher(clientID, clientSecret string) (*Refresher, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET for token refresh")
	}
	return &Refresher{Config: oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: twitch.Endpoint}}, nil
}

// Refresh returns (access, refresh, expiry, scope). Its signature matches oauth.RefreshFunc.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	if refreshToken == "" {
		return "", "", time.Time{}, "", errors.New("refresh token empty")
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	// An already expired token forces the source to hit the token endpoint.
	src := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Minute)})
	tok, err := src.Token()
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("twitch refresh failed: %w", err)
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = ComputeExpiry(0)
	}
	return tok.AccessToken, tok.RefreshToken, expiry, scopeString(tok.Extra("scope")), nil
}

// scopeString flattens the scope extra, which Twitch sends as a JSON array.
func scopeString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// Validation is the result of the token validate endpoint.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// ValidateURL is the Twitch token validation endpoint.
const ValidateURL = "https://id.twitch.tv/oauth2/validate"

// ValidateToken checks a user token and returns its owner and scopes.
// The "oauth:" IRC prefix is accepted and stripped.
func ValidateToken(ctx context.Context, hc *http.Client, url, token string) (*Validation, error) {
	token = strings.TrimPrefix(token, "oauth:")
	if token == "" {
		return nil, errors.New("token empty")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if url == "" {
		url = ValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("twitch token validation failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// HasScopes reports whether every required scope is granted.
func (v *Validation) HasScopes(required ...string) bool {
	for _, r := range required {
		found := false
		for _, s := range v.Scopes {
			if s == r {
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
