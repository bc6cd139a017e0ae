package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PREFIX", "")
	t.Setenv("HISTORY_COUNT", "")
	t.Setenv("MODEL_REFRESH_INTERVAL", "")
	t.Setenv("MODELS_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Prefix != "?" {
		t.Errorf("Prefix = %q, want ?", cfg.Prefix)
	}
	if cfg.HistoryCount != 5 || cfg.TrimChars != 700 || cfg.MaxStoredResponse != 10000 {
		t.Errorf("unexpected dispatch defaults: %+v", cfg)
	}
	if cfg.RefreshInterval != 10*time.Minute {
		t.Errorf("RefreshInterval = %v, want 10m", cfg.RefreshInterval)
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 30s", cfg.UpstreamTimeout)
	}
	if len(cfg.Models) != len(DefaultModels) {
		t.Errorf("Models = %v, want defaults", cfg.Models)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("HISTORY_COUNT", "many")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric HISTORY_COUNT")
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv("MODELS_FILE", "")
	t.Setenv("OPENROUTER_API_KEY_1", "k1")
	t.Setenv("OPENROUTER_API_KEY_2", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(cfg.Credentials))
	}
	cr, ok := cfg.Credential("YUKA1")
	if !ok || cr.Key != "k1" || cr.Label != "OpenRouter1" {
		t.Errorf("Credential(yuka1) = %+v, %v", cr, ok)
	}
	if _, ok := cfg.Credential("yuka2"); ok {
		t.Error("yuka2 should be absent when its key is empty")
	}
	if err := cfg.ValidateUpstream(); err != nil {
		t.Errorf("ValidateUpstream() = %v", err)
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "#Chan")
	t.Setenv("TWITCH_BOT_USERNAME", "Bot")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if cfg.TwitchChannel != "chan" || cfg.NotifyChannel != "chan" {
		t.Errorf("channel normalization failed: %q / %q", cfg.TwitchChannel, cfg.NotifyChannel)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	body := "models:\n  - a/model\n  - b/model\n  - a/model\ncredentials:\n  - name: Alt\n    key_env: ALT_KEY\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	t.Setenv("MODELS_FILE", path)
	t.Setenv("ALT_KEY", "secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Models) != 2 || cfg.Models[0] != "a/model" || cfg.Models[1] != "b/model" {
		t.Errorf("Models = %v, want deduplicated catalog order", cfg.Models)
	}
	cr, ok := cfg.Credential("alt")
	if !ok || cr.Label != "Alt" || cr.Key != "secret" {
		t.Errorf("Credential(alt) = %+v, %v", cr, ok)
	}
}

func TestLoadCatalogRejectsIncompleteCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte("credentials:\n  - name: x\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected error for credential without key_env")
	}
}

func TestAdaptiveOrderFlag(t *testing.T) {
	t.Setenv("ADAPTIVE_ORDER", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.AdaptiveOrder {
		t.Error("AdaptiveOrder = false, want true")
	}
	t.Setenv("ADAPTIVE_ORDER", "")
	cfg, _ = Load()
	if cfg.AdaptiveOrder {
		t.Error("AdaptiveOrder should default to false")
	}
}
