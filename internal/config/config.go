// Package config loads CLI settings from the environment and .env files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings of the genjobs command.
type Config struct {
	APIURL       string
	AccessToken  string
	RefreshToken string
	// DatabaseURL is a postgres:// URL or a SQLite file path.
	DatabaseURL     string
	PollInterval    time.Duration
	MaxPollFailures int
	RequestTimeout  time.Duration
	StatsSchedule   string
	LogLevel        slog.Level
	LogJSON         bool
}

// Load reads the given .env files, if they exist, and then the environment.
// Variables already set in the environment win over file values.
// With no files, ".env" and ".env.local" are tried.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", f, err)
		}
	}

	c := Config{
		APIURL:        getenv("GENJOBS_API_URL", "http://localhost:8000/api/v1"),
		AccessToken:   os.Getenv("GENJOBS_ACCESS_TOKEN"),
		RefreshToken:  os.Getenv("GENJOBS_REFRESH_TOKEN"),
		DatabaseURL:   getenv("GENJOBS_DATABASE_URL", "genjobs.db"),
		StatsSchedule: getenv("GENJOBS_STATS_SCHEDULE", "@every 1m"),
		LogJSON:       strings.EqualFold(getenv("GENJOBS_LOG_FORMAT", "text"), "json"),
	}

	var err error
	if c.PollInterval, err = durationEnv("GENJOBS_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if c.RequestTimeout, err = durationEnv("GENJOBS_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if c.MaxPollFailures, err = intEnv("GENJOBS_MAX_POLL_FAILURES", 3); err != nil {
		return Config{}, err
	}
	if err := c.LogLevel.UnmarshalText([]byte(getenv("GENJOBS_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("config: GENJOBS_LOG_LEVEL: %w", err)
	}
	return c, nil
}

// Logger builds the slog logger described by the config.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

// SaveTokens writes a rotated token pair into the .env file at path,
// keeping any other entries already there.
func SaveTokens(path, access, refresh string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		env = map[string]string{}
	}
	env["GENJOBS_ACCESS_TOKEN"] = access
	env["GENJOBS_REFRESH_TOKEN"] = refresh
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}
