// Package config holds the runtime configuration for the relay and the
// endpoints, read from the environment (optionally seeded by a .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Role represents the process role.
type Role string

const (
	RoleRelay  Role = "relay"
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleRelay, RoleCaller, RoleCallee:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q: must be relay, caller or callee", s)
}

// Config stores all parameters for one process.
type Config struct {
	Relay    RelayConfig
	Endpoint EndpointConfig
	Debug    bool `env:"DEBUG" env-default:"false"`
}

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	Host           string   `env:"RELAY_HOST" env-default:""`
	Port           int      `env:"PORT" env-default:"4000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGIN" env-separator:","`
	OutboxSize     int      `env:"OUTBOX_SIZE" env-default:"64"`
}

// Addr returns the listen address.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EndpointConfig configures a calling endpoint.
type EndpointConfig struct {
	RelayURL           string        `env:"RELAY_URL" env-default:"ws://127.0.0.1:4000/ws"`
	STUNServers        []string      `env:"STUN_SERVERS" env-separator:","`
	NegotiationTimeout time.Duration `env:"NEGOTIATION_TIMEOUT" env-default:"30s"`
	Audio              bool          `env:"AUDIO" env-default:"true"`
	Video              bool          `env:"VIDEO" env-default:"true"`

	// IncludeLoopback and DisableMDNS let two endpoints on one machine reach
	// each other without a LAN address.
	IncludeLoopback bool `env:"INCLUDE_LOOPBACK" env-default:"false"`
	DisableMDNS     bool `env:"DISABLE_MDNS" env-default:"false"`
}

// DefaultSTUNServers are used when STUN_SERVERS is empty. No TURN: media is
// expected to flow directly between the two endpoints.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if len(c.Endpoint.STUNServers) == 0 {
		c.Endpoint.STUNServers = DefaultSTUNServers
	}
	if c.Relay.OutboxSize <= 0 {
		c.Relay.OutboxSize = 64
	}
}

// Validate checks ranges that cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid PORT %d: must be 0~65535", c.Relay.Port)
	}
	if c.Endpoint.NegotiationTimeout < 0 {
		return fmt.Errorf("invalid NEGOTIATION_TIMEOUT %s: must not be negative", c.Endpoint.NegotiationTimeout)
	}
	return nil
}
