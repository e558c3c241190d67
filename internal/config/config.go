package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcriber.
type Config struct {
	// Engine configuration
	WhisperModel string `envconfig:"WHISPER_MODEL" default:"large-v3"` // tiny, base, small, medium, large-v2, large-v3
	ModelPath    string `envconfig:"MODEL_PATH" default:""`            // path to the ggml model file or directory

	// Run defaults (overridable per run)
	DevicePreference string `envconfig:"DEVICE_PREFERENCE" default:"auto"` // auto, cuda, cpu
	SegmentMode      string `envconfig:"SEGMENT_MODE" default:"natural"`   // natural, sentence

	// Persistence configuration. Smaller batch sizes tighten the
	// worst-case loss on crash (batch-1 segments) at the price of more
	// full-document rewrites.
	FlushBatchSize int    `envconfig:"FLUSH_BATCH_SIZE" default:"50"`
	TranscriptDir  string `envconfig:"TRANSCRIPT_DIR" default:"transcripts"`

	// Worker supervision
	WorkerBinary    string `envconfig:"WORKER_BINARY" default:"transcribe-worker"`
	CancelGraceMsec int    `envconfig:"CANCEL_GRACE_MS" default:"2000"` // grace before force kill

	// Observability configuration
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty        bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsPort      string `envconfig:"METRICS_PORT" default:"9090"`
	EventFeedEnabled bool   `envconfig:"EVENT_FEED_ENABLED" default:"false"`
}

// CancelGracePeriod returns the cancellation grace window as a duration.
func (c *Config) CancelGracePeriod() time.Duration {
	return time.Duration(c.CancelGraceMsec) * time.Millisecond
}

// Load reads configuration from environment variables, first attempting
// to load a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.FlushBatchSize < 1 {
		return nil, fmt.Errorf("FLUSH_BATCH_SIZE must be at least 1, got %d", cfg.FlushBatchSize)
	}
	if cfg.CancelGraceMsec < 0 {
		return nil, fmt.Errorf("CANCEL_GRACE_MS must not be negative, got %d", cfg.CancelGraceMsec)
	}

	return &cfg, nil
}
