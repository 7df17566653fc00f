package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the resolved, typed configuration for the bridge. Required
// fields abort startup when missing; the core never sees raw env vars.
type Config struct {
	Env string `env:"ENV" envDefault:"development"`

	// Discord
	DiscordToken string   `env:"DISCORD_APP_TOKEN,required"`
	AdminUsers   []string `env:"ADMINS" envSeparator:","`

	// Minecraft
	MCServer   string `env:"MC_SERVER,required"`
	MCPort     int    `env:"MC_PORT" envDefault:"25565"`
	MCUsername string `env:"MC_USERNAME,required"`

	// Relay
	MessageDelay   float64 `env:"MESSAGE_DELAY" envDefault:"1.5"`
	RelayQueueSize int     `env:"RELAY_QUEUE_SIZE" envDefault:"100"`

	// Rendezvous (auth) server
	AuthBind        string        `env:"AUTH_BIND" envDefault:"0.0.0.0"`
	AuthPort        int           `env:"AUTH_PORT" envDefault:"443"`
	AuthDNSWildcard string        `env:"AUTH_DNS_WILDCARD,required"`
	TLSCertFile     string        `env:"TLS_CERT_FILE"`
	TLSKeyFile      string        `env:"TLS_KEY_FILE"`
	ProofSecret     string        `env:"PROOF_SECRET,required"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"300s"`

	// Identity store
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Admin console
	AdminKey string `env:"ADMIN_KEY"`

	// Elasticsearch analytics (optional)
	ESEnabled  bool   `env:"ES_ENABLED" envDefault:"false"`
	ESURL      string `env:"ES_URL"`
	ESUsername string `env:"ES_USERNAME"`
	ESPassword string `env:"ES_PASSWORD"`
}

// Load parses the environment and validates cross-field constraints.
// Any error here is fatal at startup.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MessageDelay <= 0 {
		return fmt.Errorf("MESSAGE_DELAY must be positive, got %v", c.MessageDelay)
	}
	if c.RelayQueueSize < 1 {
		return fmt.Errorf("RELAY_QUEUE_SIZE must be at least 1, got %d", c.RelayQueueSize)
	}
	if c.SessionTTL < time.Second {
		return fmt.Errorf("SESSION_TTL must be at least 1s, got %v", c.SessionTTL)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.ESEnabled && c.ESURL == "" {
		return fmt.Errorf("ES_URL is required when ES_ENABLED is true")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MessageDelayDuration is the pacing interval for the Discord→Minecraft pump.
func (c *Config) MessageDelayDuration() time.Duration {
	return time.Duration(c.MessageDelay * float64(time.Second))
}

// MCAddress is the host:port of the Minecraft server.
func (c *Config) MCAddress() string {
	return fmt.Sprintf("%s:%d", c.MCServer, c.MCPort)
}
