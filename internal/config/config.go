// Package config loads sponge-server settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the sponge server.
type Config struct {
	Server    ServerConfig
	Generator GeneratorConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string        `validate:"required"`
	Port           string        `validate:"required,numeric"`
	ReadTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	AllowedOrigins []string
}

// GeneratorConfig holds fractal generation settings.
type GeneratorConfig struct {
	// MaxDepth caps the subdivision depth a client may request.
	MaxDepth int `validate:"gte=0,lte=6"`
	// MaxBoxes caps the leaf boxes a single request may produce.
	MaxBoxes int `validate:"gt=0"`
	// Seed seeds the shared random source; 0 means time based.
	Seed      int64
	RulesFile string
	Timeout   time.Duration `validate:"gt=0"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Limit  int64         `validate:"gt=0"`
	Window time.Duration `validate:"gt=0"`
}

// DefaultMaxBoxes bounds a request to roughly 1.5 GB of mesh buffers.
const DefaultMaxBoxes = 2_000_000

var validate = validator.New()

// Load reads configuration from environment variables and a .env file in
// the working directory, if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded (using environment): %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8090"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins: getListEnv("ALLOWED_ORIGINS"),
		},
		Generator: GeneratorConfig{
			MaxDepth:  getIntEnv("SPONGE_MAX_DEPTH", 4),
			MaxBoxes:  getIntEnv("SPONGE_MAX_BOXES", DefaultMaxBoxes),
			Seed:      int64(getIntEnv("SPONGE_SEED", 0)),
			RulesFile: getEnv("SPONGE_RULES_FILE", ""),
			Timeout:   getDurationEnv("SPONGE_GENERATE_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Limit:  int64(getIntEnv("RATE_LIMIT", 60)),
			Window: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every setting against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// OriginAllowed reports whether a websocket Origin header may connect. An
// empty allow list admits every origin.
func (c *ServerConfig) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: invalid integer for %s: %s, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("config: invalid duration for %s: %s, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
