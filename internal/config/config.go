package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DevAPIKey is the placeholder key shipped for local development.
// Startup refuses it in release mode.
const DevAPIKey = "dev-key-change-in-production"

// Config holds every tunable the hub reads at startup. All values come
// from environment variables; there is no config file.
type Config struct {
	Host string
	Port int

	// Correlation
	EntityThreshold int
	TimeWindow      time.Duration

	// Escalation tiers (entity counts)
	CriticalThreshold int
	HighThreshold     int
	MediumThreshold   int

	// Graph maintenance
	MaxGraphAge   time.Duration
	PruneInterval time.Duration

	// Advisory store bound
	MaxAdvisories int

	// Security
	APIKey string

	// Optional advisory archive; empty disables it
	DatabaseURL string

	// Ingest rate limiting
	IngestRatePerMin int
	IngestBurst      int
}

// Load reads the hub configuration from the environment, applying
// defaults for everything except secrets, and validates it.
func Load() (Config, error) {
	var parseErr error
	intEnv := func(key string, fallback int) int {
		val := os.Getenv(key)
		if val == "" {
			return fallback
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			if parseErr == nil {
				parseErr = fmt.Errorf("environment variable %s is not an integer: %q", key, val)
			}
			return fallback
		}
		return n
	}

	cfg := Config{
		Host:              getEnv("HUB_HOST", "0.0.0.0"),
		Port:              intEnv("HUB_PORT", 8000),
		EntityThreshold:   intEnv("ENTITY_THRESHOLD", 2),
		TimeWindow:        time.Duration(intEnv("TIME_WINDOW_SECONDS", 300)) * time.Second,
		CriticalThreshold: intEnv("CRITICAL_THRESHOLD", 4),
		HighThreshold:     intEnv("HIGH_THRESHOLD", 3),
		MediumThreshold:   intEnv("MEDIUM_THRESHOLD", 2),
		MaxGraphAge:       time.Duration(intEnv("MAX_GRAPH_AGE_SECONDS", 3600)) * time.Second,
		PruneInterval:     time.Duration(intEnv("PRUNE_INTERVAL_SECONDS", 300)) * time.Second,
		MaxAdvisories:     intEnv("MAX_ADVISORIES", 1000),
		APIKey:            getEnv("HUB_API_KEY", DevAPIKey),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		IngestRatePerMin:  intEnv("INGEST_RATE_PER_MIN", 600),
		IngestBurst:       intEnv("INGEST_BURST", 120),
	}

	if parseErr != nil {
		return Config{}, parseErr
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the pipeline
// meaningless or the server unreachable.
func (c Config) Validate() error {
	if c.EntityThreshold < 2 {
		return fmt.Errorf("ENTITY_THRESHOLD must be >= 2, got %d", c.EntityThreshold)
	}
	if c.TimeWindow < time.Second {
		return fmt.Errorf("TIME_WINDOW_SECONDS must be >= 1, got %s", c.TimeWindow)
	}
	if c.MediumThreshold < 2 {
		return fmt.Errorf("MEDIUM_THRESHOLD must be >= 2, got %d", c.MediumThreshold)
	}
	if !(c.MediumThreshold <= c.HighThreshold && c.HighThreshold <= c.CriticalThreshold) {
		return fmt.Errorf("escalation thresholds must satisfy medium <= high <= critical, got %d/%d/%d",
			c.MediumThreshold, c.HighThreshold, c.CriticalThreshold)
	}
	if c.MaxGraphAge < 60*time.Second {
		return fmt.Errorf("MAX_GRAPH_AGE_SECONDS must be >= 60, got %s", c.MaxGraphAge)
	}
	if c.PruneInterval < 10*time.Second {
		return fmt.Errorf("PRUNE_INTERVAL_SECONDS must be >= 10, got %s", c.PruneInterval)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("HUB_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxAdvisories < 1 {
		return fmt.Errorf("MAX_ADVISORIES must be >= 1, got %d", c.MaxAdvisories)
	}
	if c.IngestRatePerMin < 1 || c.IngestBurst < 1 {
		return fmt.Errorf("ingest rate limit values must be >= 1, got rate=%d burst=%d",
			c.IngestRatePerMin, c.IngestBurst)
	}
	if os.Getenv("GIN_MODE") == "release" && (c.APIKey == "" || c.APIKey == DevAPIKey) {
		return fmt.Errorf("HUB_API_KEY must be set to a real secret in release mode")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
