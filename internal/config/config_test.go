package config

import (
	"strings"
	"testing"
)

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	data map[string]any
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *mockBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	m.data[key] = val
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func emptyBackend() *mockBackend {
	return &mockBackend{data: map[string]any{}}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(emptyBackend())
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Triage.Mode != "disabled" {
		t.Errorf("Triage.Mode = %q, want disabled", cfg.Triage.Mode)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.Metrics.Schedule != "5 0 * * 1" {
		t.Errorf("Metrics.Schedule = %q", cfg.Metrics.Schedule)
	}
	if !strings.Contains(cfg.Storage.DataDir, "dogtriage") {
		t.Errorf("Storage.DataDir = %q, want a dogtriage path", cfg.Storage.DataDir)
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	clearEnv(t)

	b := emptyBackend()
	b.data["server.port"] = 9999
	b.data["log.level"] = "debug"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOGTRIAGE_SERVER_PORT", "4700")

	b := emptyBackend()
	b.data["server.port"] = 9999

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}
	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", cfg.Server.Port)
	}
}

func TestSecretsComeFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOGTRIAGE_LLM_API_KEY", "sk-test")

	// A key in the backend is ignored for secret specs.
	b := emptyBackend()
	b.data["llm.api_key"] = "sk-from-file"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("LLM.APIKey = %q, want sk-test", cfg.LLM.APIKey)
	}
}

func TestLiveModeRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOGTRIAGE_MODE", "live")

	if _, err := loadWith(emptyBackend()); err == nil {
		t.Fatal("expected error for live mode without API key")
	}

	t.Setenv("DOGTRIAGE_LLM_API_KEY", "sk-test")
	cfg, err := loadWith(emptyBackend())
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}
	if cfg.Triage.Mode != "live" {
		t.Errorf("Triage.Mode = %q, want live", cfg.Triage.Mode)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOGTRIAGE_MODE", "yolo")

	if _, err := loadWith(emptyBackend()); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestResolveMode_PipelineOverride(t *testing.T) {
	clearEnv(t)
	cfg := defaults()
	cfg.Triage.Mode = "shadow"

	if got := cfg.ResolveMode("emergency"); got != "shadow" {
		t.Errorf("ResolveMode = %q, want shadow", got)
	}

	t.Setenv("DOGTRIAGE_MODE_EMERGENCY", "live")
	if got := cfg.ResolveMode("emergency"); got != "live" {
		t.Errorf("ResolveMode = %q, want live", got)
	}

	// An invalid pipeline value falls through to the global mode.
	t.Setenv("DOGTRIAGE_MODE_EMERGENCY", "banana")
	if got := cfg.ResolveMode("emergency"); got != "shadow" {
		t.Errorf("ResolveMode = %q, want shadow", got)
	}
}

func TestSetKey_RejectsSecretsAndUnknown(t *testing.T) {
	if err := SetKey("llm.api_key", "sk-test"); err == nil {
		t.Error("expected error setting a secret key")
	}
	if err := SetKey("nope.nothing", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll_OmitsSecrets(t *testing.T) {
	cfg := defaults()
	for _, k := range ShowAll(cfg) {
		if k.Key == "llm.api_key" || k.Key == "server.api_token" {
			t.Errorf("secret key %q leaked in ShowAll", k.Key)
		}
	}
}
