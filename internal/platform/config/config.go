package config

import (
	"time"
)

// Config is the root configuration for the gateway process. Values are loaded
// from an optional yaml file and overridden by environment variables; see
// loader.go for precedence.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Cache     CacheConfig     `yaml:"cache"`
	Voices    VoicesConfig    `yaml:"voices"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// EngineConfig describes the external synthesis engine sidecar.
type EngineConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// FrameBytes is the PCM frame granularity when reading the engine's
	// streamed response body.
	FrameBytes int `yaml:"frame_bytes"`
}

type SynthesisConfig struct {
	MaxTextLength      int           `yaml:"max_text_length"`
	ConcurrentRequests int           `yaml:"concurrent_requests"`
	QueueTimeout       time.Duration `yaml:"queue_timeout"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	StreamingEnabled   bool          `yaml:"streaming"`
	DefaultVoice       string        `yaml:"default_voice"`
	DefaultFormat      string        `yaml:"default_format"`
}

type CacheConfig struct {
	Enabled    bool  `yaml:"enabled"`
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

// VoicesConfig controls the voice registry and the cloned-voice store.
type VoicesConfig struct {
	// Dir holds uploaded clone samples and the voice manifest.
	Dir string `yaml:"dir"`
	// MaxSampleSeconds bounds the duration of uploaded clone samples.
	MaxSampleSeconds float64     `yaml:"max_sample_seconds"`
	Store            StoreConfig `yaml:"store"`
}

type StoreConfig struct {
	Type   string            `yaml:"type"`
	SQLite SQLiteStoreConfig `yaml:"sqlite,omitempty"`
	Redis  RedisStoreConfig  `yaml:"redis,omitempty"`
}

type SQLiteStoreConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}
