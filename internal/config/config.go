// Package config loads configuration from defaults, a JSON file at
// $XDG_CONFIG_HOME/dogtriage/config.json, and DOGTRIAGE_* environment
// variables, in increasing order of precedence. Secrets (API keys, the
// admin token) come from the environment only.
package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Triage  TriageConfig
	Storage StorageConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	APIToken string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type TriageConfig struct {
	// Mode is the global rollout mode: disabled, shadow, or live.
	Mode string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	// Schedule is a 5-field cron expression for the weekly aggregation;
	// empty disables it.
	Schedule string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4600,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Triage: TriageConfig{
			Mode: "disabled",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Schedule: "5 0 * * 1",
		},
	}
}

// Load reads configuration from the config file and applies DOGTRIAGE_*
// environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if !validMode(cfg.Triage.Mode) {
		return Config{}, fmt.Errorf("invalid triage.mode %q: must be disabled, shadow, or live", cfg.Triage.Mode)
	}
	if cfg.Triage.Mode != "disabled" && cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("triage.mode is %q but no LLM API key is set; set DOGTRIAGE_LLM_API_KEY or use mode disabled", cfg.Triage.Mode)
	}

	return cfg, nil
}

func validMode(m string) bool {
	switch m {
	case "disabled", "shadow", "live":
		return true
	}
	return false
}

// ResolveMode returns the rollout mode for a named pipeline. A
// pipeline-specific environment variable (DOGTRIAGE_MODE_<PIPELINE>)
// overrides the global mode, so individual pipelines can roll out
// independently. Invalid values fall through to the global mode.
func (c Config) ResolveMode(pipeline string) string {
	if pipeline != "" {
		env := "DOGTRIAGE_MODE_" + strings.ToUpper(strings.ReplaceAll(pipeline, "-", "_"))
		if v := os.Getenv(env); v != "" && validMode(v) {
			return v
		}
	}
	return c.Triage.Mode
}
