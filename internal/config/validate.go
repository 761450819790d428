package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/livesub/internal/protocol"
	"github.com/rickgao/livesub/internal/registry"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url must use ws or wss, got %q", u.Scheme)
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Connection.ReconnectDelay <= 0 {
		return errors.New("connection.reconnect_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectDelay {
		return errors.New("connection.reconnect_max_delay cannot be less than reconnect_delay")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.PingInterval <= 0 {
		return errors.New("connection.ping_interval must be > 0")
	}
	if _, err := registry.ParsePolicy(c.Connection.CompletePolicy); err != nil {
		return fmt.Errorf("connection.complete_policy: %w", err)
	}

	if !c.Watch.Disabled && c.Watch.ProbeInterval <= 0 {
		return errors.New("watch.probe_interval must be > 0")
	}

	seen := make(map[string]bool, len(c.Subscriptions))
	for i, sub := range c.Subscriptions {
		prefix := fmt.Sprintf("subscriptions[%d]", i)
		if sub.ID == "" {
			return fmt.Errorf("%s.id is required", prefix)
		}
		if strings.Contains(sub.ID, protocol.SaltSeparator) {
			return fmt.Errorf("%s.id must not contain %q", prefix, protocol.SaltSeparator)
		}
		if seen[sub.ID] {
			return fmt.Errorf("%s.id %q is duplicated", prefix, sub.ID)
		}
		seen[sub.ID] = true
		if strings.TrimSpace(sub.Query) == "" {
			return fmt.Errorf("%s.query is required", prefix)
		}
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
	}

	if c.Relay.Enabled && c.Relay.Addr == "" {
		return errors.New("relay.addr is required")
	}

	return nil
}

func (a *AuthConfig) validate() error {
	switch {
	case a.Token != "", a.TokenEnv != "":
		return nil
	case a.KeyID != "" && a.PrivateKeyPath != "":
		return nil
	case a.KeyID != "" || a.PrivateKeyPath != "":
		return errors.New("auth.key_id and auth.private_key_path must be set together")
	default:
		return errors.New("auth requires token, token_env, or key_id with private_key_path")
	}
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
