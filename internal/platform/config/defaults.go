package config

import "time"

// Default limits mirror the reference deployment: four concurrent
// synthesis jobs, 100 cached results, 1000-character inputs.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "",
			File:  "server.log",
		},
		Engine: EngineConfig{
			URL:        "http://127.0.0.1:50000",
			Timeout:    60 * time.Second,
			FrameBytes: 8192,
		},
		Synthesis: SynthesisConfig{
			MaxTextLength:      1000,
			ConcurrentRequests: 4,
			QueueTimeout:       10 * time.Second,
			JobTimeout:         2 * time.Minute,
			StreamingEnabled:   true,
			DefaultVoice:       "alloy",
			DefaultFormat:      "mp3",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 100,
			MaxBytes:   256 << 20,
		},
		Voices: VoicesConfig{
			Dir:              "./voices",
			MaxSampleSeconds: 30,
			Store: StoreConfig{
				Type: "file",
			},
		},
		Auth: AuthConfig{},
	}
}
