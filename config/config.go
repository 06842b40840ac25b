// Package config loads server configuration from an optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"benders-server/utils/retry"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	MongoURI             string        `mapstructure:"MONGODB_URI"`
	MongoDatabase        string        `mapstructure:"MONGODB_DATABASE"`
	RedisAddr            string        `mapstructure:"REDIS_ADDR"`
	RedisDB              int           `mapstructure:"REDIS_DB"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	TokenTTL             time.Duration `mapstructure:"TOKEN_TTL"`
	ResetTokenTTL        time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	AllowedOrigins       string        `mapstructure:"ALLOWED_ORIGINS"`
	ProfileFetchAttempts int           `mapstructure:"PROFILE_FETCH_ATTEMPTS"`
	ProfileFetchDelay    time.Duration `mapstructure:"PROFILE_FETCH_DELAY"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	Environment          string        `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"PORT":                   "8080",
	"MONGODB_URI":            "mongodb://localhost:27017",
	"MONGODB_DATABASE":       "benders",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_DB":               0,
	"JWT_SECRET":             "",
	"TOKEN_TTL":              "24h",
	"RESET_TOKEN_TTL":        "1h",
	"ALLOWED_ORIGINS":        "http://localhost:3000,http://localhost:8081",
	"PROFILE_FETCH_ATTEMPTS": 3,
	"PROFILE_FETCH_DELAY":    "500ms",
	"LOG_LEVEL":              "info",
	"APP_ENV":                "development",
}

// Load reads .env when present, then resolves every key from the environment with
// defaults. JWT_SECRET has no default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment")
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is not set")
	}
	if c.TokenTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("TOKEN_TTL and RESET_TOKEN_TTL must be positive")
	}
	if c.ProfileFetchAttempts < 1 {
		return errors.New("PROFILE_FETCH_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) ProfileRetry() retry.Policy {
	return retry.Policy{Attempts: c.ProfileFetchAttempts, InitialDelay: c.ProfileFetchDelay}
}

// SetupLogging applies LOG_LEVEL and switches to JSON output outside development.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.Environment != "development" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}
