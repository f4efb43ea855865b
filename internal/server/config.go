package server

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port            int
	ClientOrigins   []string
	DatabaseURL     string
	LogLevel        string
	LogFormat       string
	RateLimit       int
	TableIdleTTL    time.Duration
	CleanupInterval time.Duration
}

// LoadConfig reads the environment (and a .env file, if present).
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 4000)
	v.SetDefault("client_origins", "http://localhost:5173")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("rate_limit", 10)
	v.SetDefault("table_idle_ttl", 30*time.Minute)
	v.SetDefault("cleanup_interval", time.Minute)

	cfg := Config{
		Port:            v.GetInt("port"),
		ClientOrigins:   parseOrigins(v.GetString("client_origins")),
		DatabaseURL:     v.GetString("database_url"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		RateLimit:       v.GetInt("rate_limit"),
		TableIdleTTL:    v.GetDuration("table_idle_ttl"),
		CleanupInterval: v.GetDuration("cleanup_interval"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("CONFIG_INVALID: PORT must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CONFIG_INVALID: LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("CONFIG_INVALID: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("CONFIG_INVALID: RATE_LIMIT must be positive")
	}
	if c.TableIdleTTL <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("CONFIG_INVALID: TABLE_IDLE_TTL and CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// parseOrigins turns a comma separated list into scheme://host origins.
// Entries that are not absolute URLs are dropped.
func parseOrigins(raw string) []string {
	var origins []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		origin := strings.ToLower(u.Scheme + "://" + u.Host)
		if !seen[origin] {
			seen[origin] = true
			origins = append(origins, origin)
		}
	}
	return origins
}

// NewLogger builds the process logger from config.
func NewLogger(cfg Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
