package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	SyncURL   string
	APIURL    string
	Token     string
	ParkDB    string
	ParkLimit int

	MetricsAddr string

	TeardownDelay       time.Duration
	ReconnectAttempts   int
	ReconnectMinDelay   time.Duration
	ReconnectMaxDelay   time.Duration
	HandshakeTimeout    time.Duration
	ContactRefreshDelay time.Duration
	GroupsRefreshDelay  time.Duration
	HighlightWindow     time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is loaded first and never overrides variables that
// are already set.
func Load(cliMode bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		SyncURL:     getEnv("SYNC_URL", "ws://localhost:8080/api/events"),
		APIURL:      getEnv("API_URL", "http://localhost:8080/api"),
		Token:       os.Getenv("SYNC_TOKEN"),
		ParkDB:      os.Getenv("PARK_DB"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		key      string
		fallback string
	}{
		{&cfg.TeardownDelay, "TEARDOWN_DELAY", "2s"},
		{&cfg.ReconnectMinDelay, "RECONNECT_MIN_DELAY", "1s"},
		{&cfg.ReconnectMaxDelay, "RECONNECT_MAX_DELAY", "5s"},
		{&cfg.HandshakeTimeout, "HANDSHAKE_TIMEOUT", "10s"},
		{&cfg.ContactRefreshDelay, "CONTACT_REFRESH_DELAY", "500ms"},
		{&cfg.GroupsRefreshDelay, "GROUPS_REFRESH_DELAY", "2s"},
		{&cfg.HighlightWindow, "HIGHLIGHT_WINDOW", "3s"},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if cfg.ReconnectAttempts, err = strconv.Atoi(getEnv("RECONNECT_ATTEMPTS", "5")); err != nil {
		return nil, fmt.Errorf("RECONNECT_ATTEMPTS: %w", err)
	}
	if cfg.ParkLimit, err = strconv.Atoi(getEnv("PARK_LIMIT", "50")); err != nil {
		return nil, fmt.Errorf("PARK_LIMIT: %w", err)
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values. In cliMode the session token may be
// supplied by a flag instead of SYNC_TOKEN.
func (c *Config) Validate(cliMode bool) error {
	if c.Token == "" && !cliMode {
		return fmt.Errorf("SYNC_TOKEN is required")
	}

	if c.SyncURL == "" {
		return fmt.Errorf("SYNC_URL is required")
	}

	if c.TeardownDelay < 0 {
		return fmt.Errorf("TEARDOWN_DELAY must not be negative")
	}

	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must be at least 1")
	}

	if c.ReconnectMinDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("RECONNECT_MIN_DELAY must be positive and not exceed RECONNECT_MAX_DELAY")
	}

	if c.ContactRefreshDelay <= 0 || c.GroupsRefreshDelay <= 0 {
		return fmt.Errorf("refresh delays must be greater than 0")
	}

	if c.ParkLimit < 0 {
		return fmt.Errorf("PARK_LIMIT must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
