package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are settings that may come from the environment instead of
// the config file. Empty values leave the file setting untouched.
type EnvOverrides struct {
	ServerURL string `env:"LIVESUB_SERVER_URL"`
	AuthToken string `env:"LIVESUB_AUTH_TOKEN"`
	RedisAddr string `env:"LIVESUB_REDIS_ADDR"`
}

// ApplyEnv overlays LIVESUB_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	o, err := env.ParseAs[EnvOverrides]()
	if err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	if o.ServerURL != "" {
		c.Server.URL = o.ServerURL
	}
	if o.AuthToken != "" {
		c.Auth.Token = o.AuthToken
	}
	if o.RedisAddr != "" {
		c.Relay.Addr = o.RedisAddr
	}
	return nil
}
