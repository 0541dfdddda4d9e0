/*
Package configs is responsible for loading and validating the application's configuration settings.

Settings come from environment variables, parsed with caarlos0/env: the running environment,
bind address and port, log level, allowed WebSocket origins, and the connect and message
rate limits.
*/
package configs

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DevelopmentEnvironment is the default value of ENVIRONMENT.
const DevelopmentEnvironment = "development"

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0"`
	Port          int    `env:"PORT" envDefault:"18237"`
	LogLevel      string `env:"LOG_LEVEL"`

	// Security Settings
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Rate Limit Settings
	ConnectRate  float64 `env:"CONNECT_RATE" envDefault:"1"`
	ConnectBurst int     `env:"CONNECT_BURST" envDefault:"5"`
	MessageRate  float64 `env:"MESSAGE_RATE" envDefault:"5"`
	MessageBurst int     `env:"MESSAGE_BURST" envDefault:"10"`

	// Lifecycle Settings
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// LoadConfig reads the configuration from the process environment and validates it.
func LoadConfig() (*AppConfig, error) {
	return load(env.Options{Environment: env.ToMap(os.Environ())})
}

// Default returns the configuration obtained with no environment variables set.
func Default() *AppConfig {
	cfg, err := load(env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("configs: defaults are invalid: %v", err))
	}
	return cfg
}

func load(opts env.Options) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate normalizes list values and rejects out-of-range settings.
func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("LISTEN_ADDRESS cannot be blank")
	}
	if net.ParseIP(c.ListenAddress) == nil && strings.ContainsAny(c.ListenAddress, " :/") {
		return fmt.Errorf("LISTEN_ADDRESS %q is neither an IP address nor a host name", c.ListenAddress)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the valid range (0-65535)", c.Port)
	}

	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins

	if c.ConnectBurst < 0 || c.MessageBurst < 0 {
		return fmt.Errorf("rate limit bursts cannot be negative")
	}
	if c.ConnectRate > 0 && c.ConnectBurst == 0 {
		return fmt.Errorf("CONNECT_BURST must be positive when CONNECT_RATE is set")
	}
	if c.MessageRate > 0 && c.MessageBurst == 0 {
		return fmt.Errorf("MESSAGE_BURST must be positive when MESSAGE_RATE is set")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}

	return nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == DevelopmentEnvironment
}
