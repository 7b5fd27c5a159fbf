package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Bemba", cfg.Session.DefaultLanguage)
	assert.Equal(t, 20*time.Second, cfg.Timeouts.Network)
	assert.Equal(t, "agrospeak", cfg.STT.Backend)
	assert.Equal(t, "openai", cfg.Assistant.Backend)
	assert.Equal(t, 500, cfg.Assistant.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Assistant.Temperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.TTS.Rate, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Weather.CacheTTL)
	assert.True(t, cfg.Transports.HTTP.Enabled)
	assert.False(t, cfg.Store.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agrospeak.yaml")
	yaml := `
session:
  default_language: Nyanja
assistant:
  backend: openai
  openai:
    api_key: "${TEST_AGROSPEAK_KEY}"
weather:
  cache_backend: redis
  cache_ttl: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TEST_AGROSPEAK_KEY", "sk-test")
	t.Setenv("AGROSPEAK_TIMEOUTS_NETWORK", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Nyanja", cfg.Session.DefaultLanguage)
	assert.Equal(t, "sk-test", cfg.Assistant.OpenAI.APIKey)
	assert.Equal(t, "redis", cfg.Weather.CacheBackend)
	assert.Equal(t, 90*time.Second, cfg.Weather.CacheTTL)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Network)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("AGROSPEAK_STT_BACKEND", "carrier-pigeon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stt backend")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Session:   SessionConfig{DefaultLanguage: "Bemba"},
			Timeouts:  TimeoutsConfig{Network: time.Second},
			STT:       STTConfig{Backend: "agrospeak", Endpoint: "http://stt"},
			Assistant: AssistantConfig{Backend: "gemini"},
			Weather:   WeatherConfig{CacheBackend: "memory"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"empty stt endpoint", func(c *Config) { c.STT.Endpoint = "" }, false},
		{"openai without endpoint", func(c *Config) { c.Assistant.Backend = "openai" }, false},
		{"dir player without dir", func(c *Config) { c.TTS.Player.Type = "dir" }, false},
		{"command player", func(c *Config) {
			c.TTS.Player.Type = "command"
			c.TTS.Player.Command = []string{"aplay"}
		}, true},
		{"store without path", func(c *Config) { c.Store.Enabled = true }, false},
		{"zero timeout", func(c *Config) { c.Timeouts.Network = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("AGRO_SECRET", "value")
	assert.Equal(t, "value", resolveEnvRef("${AGRO_SECRET}"))
	assert.Equal(t, "${AGRO_MISSING}", resolveEnvRef("${AGRO_MISSING}"))
	assert.Equal(t, "plain", resolveEnvRef("plain"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
