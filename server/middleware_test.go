package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/yuka/ratelimit"
)

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authConfig     *authConfig
		setupRequest   func(*http.Request)
		expectedStatus int
	}{
		{
			name:           "auth disabled - allows access",
			authConfig:     &authConfig{enabled: false},
			setupRequest:   func(r *http.Request) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "token auth - valid token",
			authConfig:     &authConfig{adminToken: "secret-token", enabled: true},
			setupRequest:   func(r *http.Request) { r.Header.Set("X-Admin-Token", "secret-token") },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "token auth - invalid token",
			authConfig:     &authConfig{adminToken: "secret-token", enabled: true},
			setupRequest:   func(r *http.Request) { r.Header.Set("X-Admin-Token", "wrong-token") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth - missing token",
			authConfig:     &authConfig{adminToken: "secret-token", enabled: true},
			setupRequest:   func(r *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "basic auth - valid credentials",
			authConfig:     &authConfig{adminUsername: "admin", adminPassword: "pass", enabled: true},
			setupRequest:   func(r *http.Request) { r.SetBasicAuth("admin", "pass") },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "basic auth - wrong password",
			authConfig:     &authConfig{adminUsername: "admin", adminPassword: "pass", enabled: true},
			setupRequest:   func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "both configured - token wins",
			authConfig:     &authConfig{adminUsername: "admin", adminPassword: "pass", adminToken: "tok", enabled: true},
			setupRequest:   func(r *http.Request) { r.Header.Set("X-Admin-Token", "tok") },
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
			tt.setupRequest(req)
			rr := httptest.NewRecorder()
			adminAuth(next, tt.authConfig).ServeHTTP(rr, req)
			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestLoadAuthConfig(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	if loadAuthConfig().enabled {
		t.Error("auth should be disabled with no env")
	}
	t.Setenv("ADMIN_USERNAME", "admin")
	if loadAuthConfig().enabled {
		t.Error("username alone should not enable auth")
	}
	t.Setenv("ADMIN_TOKEN", "t")
	if !loadAuthConfig().enabled {
		t.Error("token should enable auth")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := ratelimit.NewMemory(ctx, ratelimit.Config{Limit: 2, Window: time.Minute})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := rateLimitMiddleware(next, limiter)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	// A different client is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("second client = %d, want 200", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	if got := clientIP(req); got != "192.168.1.5" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP with XFF = %q", got)
	}
}

func TestLoadRateLimitConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "3")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	cfg := loadRateLimitConfig()
	if cfg.Limit != 3 || cfg.Window != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	if loadRateLimitConfig().Limit != 0 {
		t.Error("disabled limiter should have zero limit")
	}
}
