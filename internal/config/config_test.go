package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidTransport(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Transport = "fax"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Gateway.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_ChunkLimit_TooSmall(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.ChunkLimit = 8
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for chunkLimit=8")
	}
}

func TestValidate_Timeout_Bounds(t *testing.T) {
	cfg := Defaults()

	cfg.Routing.TimeoutSeconds = 15
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeoutSeconds=15 should be valid: %v", err)
	}

	cfg.Routing.TimeoutSeconds = 30
	if err := Validate(cfg); err != nil {
		t.Fatalf("timeoutSeconds=30 should be valid: %v", err)
	}

	cfg.Routing.TimeoutSeconds = 5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=5")
	}

	cfg.Routing.TimeoutSeconds = 120
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for timeoutSeconds=120")
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.Primary.Provider = "mystery"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_FallbackMissingModel(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.Fallback = &EndpointConfig{Provider: "anthropic"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for fallback without model")
	}
}

func TestValidate_HistoryWindow(t *testing.T) {
	cfg := Defaults()
	cfg.Store.HistoryWindow = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for historyWindow=0")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Routing.Primary.Model = "test-model"
	original.Gateway.WhatsApp.VerifyToken = "verify-me"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Routing.Primary.Model != "test-model" {
		t.Errorf("expected test-model, got %s", loaded.Routing.Primary.Model)
	}
	if loaded.Gateway.WhatsApp.VerifyToken != "verify-me" {
		t.Errorf("verify token lost in round-trip")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !errors.Is(err, ErrConfigMissing) {
		t.Errorf("expected ErrConfigMissing, got: %v", err)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- Env expansion ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "sk-abc")
	out := ExpandEnvVars(`{"apiKey": "${RELAY_TEST_KEY}"}`)
	if out != `{"apiKey": "sk-abc"}` {
		t.Errorf("unexpected expansion: %s", out)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	out := ExpandEnvVars(`${RELAY_UNSET_VAR:-fallback}`)
	if out != "fallback" {
		t.Errorf("expected fallback, got %s", out)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	in := "${RELAY_UNSET_VAR}"
	if out := ExpandEnvVars(in); out != in {
		t.Errorf("expected original kept, got %s", out)
	}
}

// --- Accessors ---

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "routing.primary.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := GetByPath(cfg, "routing.primary.model")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %v", val)
	}

	if err := SetByPath(cfg, "gateway.port", "9090"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Gateway.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Gateway.Port)
	}
}

func TestSanitize_MasksCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.Primary.APIKey = "sk-1234567890abcdef"
	cfg.Gateway.WhatsApp.AppSecret = "supersecretvalue"

	clean := Sanitize(cfg)
	if clean.Routing.Primary.APIKey == cfg.Routing.Primary.APIKey {
		t.Error("api key not masked")
	}
	if clean.Gateway.WhatsApp.AppSecret == cfg.Gateway.WhatsApp.AppSecret {
		t.Error("app secret not masked")
	}
	// Original untouched.
	if cfg.Routing.Primary.APIKey != "sk-1234567890abcdef" {
		t.Error("sanitize mutated the original config")
	}
}
