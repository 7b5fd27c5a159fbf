// Package config handles loading and validating the agrospeak configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the agrospeak daemon and CLI.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transports  TransportsConfig  `mapstructure:"transports"`
	Session     SessionConfig     `mapstructure:"session"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts"`
	STT         STTConfig         `mapstructure:"stt"`
	Translation TranslationConfig `mapstructure:"translation"`
	Assistant   AssistantConfig   `mapstructure:"assistant"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Weather     WeatherConfig     `mapstructure:"weather"`
	Location    LocationConfig    `mapstructure:"location"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"` // subscription filter, e.g. "agrospeak/+/turn"
	ClientID string `mapstructure:"client_id"`
}

// SessionConfig controls per-device conversation sessions.
type SessionConfig struct {
	DefaultLanguage string        `mapstructure:"default_language"` // e.g. "Bemba", "English"
	MaxAudioBytes   int           `mapstructure:"max_audio_bytes"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
}

// TimeoutsConfig bounds every outbound call.
type TimeoutsConfig struct {
	Network time.Duration `mapstructure:"network"`
}

// STTConfig selects and configures the speech-to-text backend.
type STTConfig struct {
	Backend  string        `mapstructure:"backend"` // "agrospeak" or "whisper"
	Endpoint string        `mapstructure:"endpoint"`
	Whisper  WhisperConfig `mapstructure:"whisper"`
}

// WhisperConfig holds Whisper-compatible transcription settings.
type WhisperConfig struct {
	Type      string `mapstructure:"type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	VADFilter bool   `mapstructure:"vad_filter"`
}

// TranslationConfig configures the translation service.
type TranslationConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// AssistantConfig selects and configures the remote assistant backend.
type AssistantConfig struct {
	Backend     string       `mapstructure:"backend"` // "openai" or "gemini"
	MaxTokens   int          `mapstructure:"max_tokens"`
	Temperature float64      `mapstructure:"temperature"`
	OpenAI      OpenAIConfig `mapstructure:"openai"`
	Gemini      GeminiConfig `mapstructure:"gemini"`
}

// OpenAIConfig holds settings for any OpenAI-compatible chat endpoint
// (OpenAI, OpenRouter, Ollama, vLLM).
type OpenAIConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Referer  string `mapstructure:"referer"` // OpenRouter HTTP-Referer
	Title    string `mapstructure:"title"`   // OpenRouter X-Title
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// TTSConfig configures speech output.
type TTSConfig struct {
	Remote RemoteTTSConfig `mapstructure:"remote"`
	Piper  PiperConfig     `mapstructure:"piper"`
	Player PlayerConfig    `mapstructure:"player"`
	Pitch  float64         `mapstructure:"pitch"`
	Rate   float64         `mapstructure:"rate"`
}

// RemoteTTSConfig configures the remote synthesis service used for
// non-English languages.
type RemoteTTSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol), used as the
// local synthesizer.
//
// For a single Piper instance that serves all languages, set Endpoint.
// For per-language instances, set Endpoints which maps language codes to
// individual Wyoming TCP endpoints. Endpoints takes precedence.
type PiperConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
	Voices    map[string]string `mapstructure:"voices"`
}

// PlayerConfig selects where synthesized audio is played.
type PlayerConfig struct {
	Type    string   `mapstructure:"type"` // "none", "dir", "command"
	Dir     string   `mapstructure:"dir"`
	Command []string `mapstructure:"command"` // e.g. ["aplay", "-q"]
}

// BackendConfig points at the AgroSpeak backend (weather, profile).
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// WeatherConfig configures the weather data cache.
type WeatherConfig struct {
	CacheBackend  string        `mapstructure:"cache_backend"` // "memory" or "redis"
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	ForecastDays  int           `mapstructure:"forecast_days"`
}

// LocationConfig is the fallback location when a request carries none.
type LocationConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Name      string  `mapstructure:"name"`
}

// StoreConfig configures the optional turn archive.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./agrospeak.yaml, ./configs/agrospeak.yaml, /etc/agrospeak/agrospeak.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agrospeak")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/agrospeak")
	}

	// Environment variables: AGROSPEAK_SERVER_HEALTH_PORT, AGROSPEAK_STT_BACKEND, etc.
	v.SetEnvPrefix("AGROSPEAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENROUTER_API_KEY}")
	cfg.Assistant.OpenAI.APIKey = resolveEnvRef(cfg.Assistant.OpenAI.APIKey)
	cfg.Assistant.Gemini.APIKey = resolveEnvRef(cfg.Assistant.Gemini.APIKey)
	cfg.STT.Whisper.APIKey = resolveEnvRef(cfg.STT.Whisper.APIKey)
	cfg.Weather.RedisPassword = resolveEnvRef(cfg.Weather.RedisPassword)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.topic", "agrospeak/+/turn")
	v.SetDefault("transports.mqtt.client_id", "agrospeak")
	v.SetDefault("session.default_language", "Bemba")
	v.SetDefault("session.max_audio_bytes", 25<<20)
	v.SetDefault("session.idle_ttl", 30*time.Minute)
	v.SetDefault("timeouts.network", 20*time.Second)
	v.SetDefault("stt.backend", "agrospeak")
	v.SetDefault("stt.endpoint", "http://localhost:5000/api/transcribe")
	v.SetDefault("stt.whisper.type", "openai")
	v.SetDefault("stt.whisper.model", "whisper-1")
	v.SetDefault("translation.endpoint", "http://localhost:5000/api/translate")
	v.SetDefault("assistant.backend", "openai")
	v.SetDefault("assistant.max_tokens", 500)
	v.SetDefault("assistant.temperature", 0.7)
	v.SetDefault("assistant.openai.endpoint", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("assistant.openai.model", "openai/gpt-3.5-turbo")
	v.SetDefault("assistant.openai.referer", "http://localhost")
	v.SetDefault("assistant.openai.title", "AgroSpeak")
	v.SetDefault("assistant.gemini.model", "gemini-2.0-flash")
	v.SetDefault("tts.remote.endpoint", "http://localhost:5000/api/speak")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")
	v.SetDefault("tts.player.type", "none")
	v.SetDefault("tts.pitch", 1.0)
	v.SetDefault("tts.rate", 0.9)
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("weather.cache_backend", "memory")
	v.SetDefault("weather.cache_ttl", 10*time.Minute)
	v.SetDefault("weather.redis_addr", "localhost:6379")
	v.SetDefault("weather.forecast_days", 5)
	v.SetDefault("location.latitude", -15.3875)
	v.SetDefault("location.longitude", 28.3228)
	v.SetDefault("location.name", "Lusaka, Zambia")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "./data/agrospeak.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the backend selections and required endpoints.
func (c *Config) Validate() error {
	switch c.STT.Backend {
	case "agrospeak", "whisper":
	default:
		return fmt.Errorf("unknown stt backend %q", c.STT.Backend)
	}
	if c.STT.Endpoint == "" {
		return fmt.Errorf("stt.endpoint cannot be empty")
	}
	switch c.Assistant.Backend {
	case "openai":
		if c.Assistant.OpenAI.Endpoint == "" {
			return fmt.Errorf("assistant.openai.endpoint cannot be empty")
		}
	case "gemini":
	default:
		return fmt.Errorf("unknown assistant backend %q", c.Assistant.Backend)
	}
	switch c.Weather.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown weather cache backend %q", c.Weather.CacheBackend)
	}
	switch c.TTS.Player.Type {
	case "", "none":
	case "dir":
		if c.TTS.Player.Dir == "" {
			return fmt.Errorf("tts.player.dir cannot be empty for the dir player")
		}
	case "command":
		if len(c.TTS.Player.Command) == 0 {
			return fmt.Errorf("tts.player.command cannot be empty for the command player")
		}
	default:
		return fmt.Errorf("unknown tts player %q", c.TTS.Player.Type)
	}
	if c.Session.DefaultLanguage == "" {
		return fmt.Errorf("session.default_language cannot be empty")
	}
	if c.Timeouts.Network <= 0 {
		return fmt.Errorf("timeouts.network must be > 0")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty when the store is enabled")
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stdout)))
}

// NewHandler builds the slog handler described by cfg.
func NewHandler(cfg LoggingConfig, w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
