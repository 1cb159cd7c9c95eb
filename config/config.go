package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment once at
// startup.
type Config struct {
	DiscordBotToken string `env:"DISCORD_BOT_TOKEN"`
	Port            string `env:"PORT" envDefault:"8080"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// BotLocale is used for DMs, audit-log reasons, and as the fallback for
	// interaction replies.
	BotLocale string `env:"BOT_LOCALE" envDefault:"ru"`

	ReaperInterval  time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`
	SubmitTimeout   time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`
	ReadyWait       time.Duration `env:"READY_WAIT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	StopJoinTimeout time.Duration `env:"STOP_JOIN_TIMEOUT" envDefault:"10s"`

	RollbackOnDeliveryFailure bool `env:"ROLLBACK_ON_DELIVERY_FAILURE" envDefault:"false"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// LoadEnvFile loads a dotenv file into the process environment. A missing
// file is not an error; variables already set win.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return true, nil
}

// ParseEnv loads configuration from the given variables.
func ParseEnv(target any, environ map[string]string) error {
	if err := env.ParseWithOptions(target, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates Config from the process environment.
func Load() (Config, error) {
	return LoadFrom(env.ToMap(os.Environ()))
}

func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DiscordBotToken = strings.TrimSpace(c.DiscordBotToken)
	c.Port = strings.TrimSpace(c.Port)
	c.BotLocale = strings.TrimSpace(c.BotLocale)

	origins := c.CORSAllowedOrigins[:0]
	for _, origin := range c.CORSAllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.CORSAllowedOrigins = origins
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if len(c.CORSAllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must list at least one origin"))
	}
	if c.BotLocale == "" {
		errs = append(errs, errors.New("BOT_LOCALE must not be empty"))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"REAPER_INTERVAL", c.ReaperInterval},
		{"SUBMIT_TIMEOUT", c.SubmitTimeout},
		{"READY_WAIT", c.ReadyWait},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"STOP_JOIN_TIMEOUT", c.StopJoinTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}

	return errors.Join(errs...)
}

// TracingEnabled reports whether an OTLP exporter should be installed.
func (c Config) TracingEnabled() bool {
	return c.OTelEnabled && strings.TrimSpace(c.OTelEndpoint) != ""
}
