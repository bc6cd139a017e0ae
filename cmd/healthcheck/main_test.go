package main

import "testing"

func TestTargetURL(t *testing.T) {
	tests := []struct {
		url, addr, want string
	}{
		{"", "", "http://localhost:8080/healthz"},
		{"", ":9090", "http://localhost:9090/healthz"},
		{"", "127.0.0.1:7000", "http://127.0.0.1:7000/healthz"},
		{"http://svc/healthz", ":9090", "http://svc/healthz"},
	}
	for _, tt := range tests {
		t.Setenv("HEALTHCHECK_URL", tt.url)
		t.Setenv("HTTP_ADDR", tt.addr)
		if got := targetURL(); got != tt.want {
			t.Errorf("targetURL(%q,%q) = %q, want %q", tt.url, tt.addr, got, tt.want)
		}
	}
}
