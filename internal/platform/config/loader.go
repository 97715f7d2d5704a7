package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// Loader reads configuration from an optional yaml file, then applies
// environment overrides on top.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader with the default search behaviour.
func NewLoader() *Loader {
	return &Loader{useDotEnv: true}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the configuration file path (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. Precedence, lowest to highest:
// built-in defaults, yaml file, environment variables.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		_ = godotenv.Load()
	}

	cfg := Default()

	path := l.path
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "config.load", "parse config file", err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("ENGINE_URL"); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv("ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Timeout = d
		}
	}
	if v, ok := envInt("MAX_TEXT_LENGTH"); ok {
		cfg.Synthesis.MaxTextLength = v
	}
	if v, ok := envInt("CONCURRENT_REQUESTS"); ok {
		cfg.Synthesis.ConcurrentRequests = v
	}
	if v, ok := envBool("STREAMING"); ok {
		cfg.Synthesis.StreamingEnabled = v
	}
	if v, ok := envBool("ENABLE_CACHING"); ok {
		cfg.Cache.Enabled = v
	}
	if v, ok := envInt("CACHE_SIZE"); ok {
		cfg.Cache.MaxEntries = v
	}
	if v := os.Getenv("VOICES_DIR"); v != "" {
		cfg.Voices.Dir = v
	}
	if v := os.Getenv("VOICE_STORE"); v != "" {
		cfg.Voices.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Voices.Store.Redis.Addr = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v, ok := envBool("ENABLE_AUTH"); ok {
		cfg.Auth.Enabled = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			fmt.Sprintf("invalid server port %d", cfg.Server.Port))
	}
	if cfg.Synthesis.MaxTextLength <= 0 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			"max_text_length must be positive")
	}
	if cfg.Synthesis.ConcurrentRequests <= 0 {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			"concurrent_requests must be positive")
	}
	if cfg.Engine.URL == "" {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			"engine url required")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKey == "" {
		return platformerrors.New(platformerrors.KindConfig, "config.validate",
			"auth enabled but api_key empty")
	}
	return nil
}
