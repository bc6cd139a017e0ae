package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		minDur  time.Duration
		maxDur  time.Duration
	}{
		{"zero defaults to 60 minutes", 0, 59 * time.Minute, 61 * time.Minute},
		{"negative defaults to 60 minutes", -10, 59 * time.Minute, 61 * time.Minute},
		{"positive seconds", 3600, 59 * time.Minute, 61 * time.Minute},
		{"short expiry", 30, 29 * time.Second, 31 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := time.Until(ComputeExpiry(tt.seconds))
			if d < tt.minDur || d > tt.maxDur {
				t.Errorf("ComputeExpiry(%d) is %v from now, want between %v and %v", tt.seconds, d, tt.minDur, tt.maxDur)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		if r.Form.Get("client_id") != "cid" || r.Form.Get("client_secret") != "secret" {
			t.Errorf("client credentials not sent in params: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"expires_in":    14000,
			"scope":         []string{"chat:read", "chat:edit"},
			"token_type":    "bearer",
		})
	}))
	defer srv.Close()

	r, err := NewRefresher("cid", "secret")
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	r.Config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}
	r.HTTPClient = srv.Client()

	at, rt, exp, scope, err := r.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if at != "at-2" || rt != "rt-2" || scope != "chat:read chat:edit" {
		t.Errorf("Refresh = %q %q %q", at, rt, scope)
	}
	if d := time.Until(exp); d < 3*time.Hour || d > 4*time.Hour {
		t.Errorf("expiry %v from now, want ~14000s", d)
	}
}

func TestRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer srv.Close()

	r, _ := NewRefresher("cid", "secret")
	r.Config.Endpoint = oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}
	if _, _, _, _, err := r.Refresh(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
	if _, _, _, _, err := r.Refresh(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty refresh token")
	}
}

func TestNewRefresherRequiresCredentials(t *testing.T) {
	if _, err := NewRefresher("", "x"); err == nil {
		t.Error("expected error without client id")
	}
}

func TestValidateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "OAuth tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id": "cid", "login": "yukabot", "user_id": "42",
			"scopes": []string{"chat:read", "chat:edit"}, "expires_in": 5000,
		})
	}))
	defer srv.Close()

	v, err := ValidateToken(context.Background(), srv.Client(), srv.URL, "oauth:tok")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if v.Login != "yukabot" || !v.HasScopes("chat:read", "chat:edit") || v.HasScopes("moderator:read:chatters") {
		t.Errorf("validation = %+v", v)
	}
	if _, err := ValidateToken(context.Background(), srv.Client(), srv.URL, "wrong"); err == nil {
		t.Error("expected error for invalid token")
	}
	if _, err := ValidateToken(context.Background(), srv.Client(), srv.URL, ""); err == nil {
		t.Error("expected error for empty token")
	}
}
