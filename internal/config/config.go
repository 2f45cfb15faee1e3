package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Dedup   DedupConfig
	Worker  WorkerConfig
	Feed    FeedConfig
	Webhook WebhookConfig
	DB      DatabaseConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// DedupConfig holds the matching thresholds and score weights. The weights
// must sum to 1 so the combined score stays in [0,1].
type DedupConfig struct {
	RadiusMeters   float64
	TimeWindow     time.Duration
	MatchThreshold float64
	WeightDistance float64
	WeightTime     float64
	WeightType     float64
	WeightSource   float64
	TaxonomyPath   string // optional JSON type-to-group table
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type FeedConfig struct {
	Enabled       bool
	URL           string
	PollInterval  time.Duration
	SweepInterval time.Duration // how often pending reports are re-submitted
	SweepLimit    int
}

type WebhookConfig struct {
	URL        string
	Secret     string
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Dedup: DedupConfig{
			RadiusMeters:   getEnvFloat("DEDUP_RADIUS_METERS", 300),
			TimeWindow:     getEnvDuration("DEDUP_TIME_WINDOW", 3*time.Hour),
			MatchThreshold: getEnvFloat("DEDUP_MATCH_THRESHOLD", 0.5),
			WeightDistance: getEnvFloat("DEDUP_WEIGHT_DISTANCE", 0.35),
			WeightTime:     getEnvFloat("DEDUP_WEIGHT_TIME", 0.35),
			WeightType:     getEnvFloat("DEDUP_WEIGHT_TYPE", 0.20),
			WeightSource:   getEnvFloat("DEDUP_WEIGHT_SOURCE", 0.10),
			TaxonomyPath:   getEnv("TAXONOMY_PATH", ""),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Feed: FeedConfig{
			Enabled:       getEnvBool("FEED_ENABLED", false),
			URL:           getEnv("FEED_URL", ""),
			PollInterval:  getEnvDuration("FEED_POLL_INTERVAL", 15*time.Minute),
			SweepInterval: getEnvDuration("PENDING_SWEEP_INTERVAL", time.Minute),
			SweepLimit:    getEnvInt("PENDING_SWEEP_LIMIT", 100),
		},
		Webhook: WebhookConfig{
			URL:        getEnv("WEBHOOK_URL", ""),
			Secret:     getEnv("WEBHOOK_SECRET", ""),
			MaxRetries: getEnvInt("WEBHOOK_MAX_RETRIES", 3),
			BaseDelay:  getEnvDuration("WEBHOOK_BASE_DELAY", time.Second),
			Timeout:    getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/ranger.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Dedup.RadiusMeters <= 0 {
		return fmt.Errorf("dedup radius must be positive, got %f", c.Dedup.RadiusMeters)
	}
	if c.Dedup.TimeWindow <= 0 {
		return fmt.Errorf("dedup time window must be positive, got %s", c.Dedup.TimeWindow)
	}
	if c.Dedup.MatchThreshold < 0 || c.Dedup.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be in [0,1], got %f", c.Dedup.MatchThreshold)
	}

	weightSum := c.Dedup.WeightDistance + c.Dedup.WeightTime + c.Dedup.WeightType + c.Dedup.WeightSource
	if weightSum < 0.999 || weightSum > 1.001 {
		return fmt.Errorf("score weights must sum to 1.0, got %f", weightSum)
	}

	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("FEED_URL must be set when the feed poller is enabled")
	}
	if c.Feed.Enabled && c.Feed.PollInterval < time.Minute {
		return fmt.Errorf("feed poll interval must be at least 1 minute")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
