package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 20
	DefaultPingInterval         = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultCompletePolicy       = "always"
	DefaultSignedPath           = "/graphql"
	DefaultProbeInterval        = 5 * time.Second
	DefaultProbeTimeout         = 3 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultRedisAddr            = "localhost:6379"
	DefaultChannelPrefix        = "livesub"
)

func (c *Config) applyDefaults() {
	// Auth defaults
	if c.Auth.SignedPath == "" {
		c.Auth.SignedPath = DefaultSignedPath
	}

	// Connection defaults
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.CompletePolicy == "" {
		c.Connection.CompletePolicy = DefaultCompletePolicy
	}

	// Watch defaults
	if c.Watch.ProbeInterval == 0 {
		c.Watch.ProbeInterval = DefaultProbeInterval
	}
	if c.Watch.ProbeTimeout == 0 {
		c.Watch.ProbeTimeout = DefaultProbeTimeout
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)

	// Relay defaults
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRedisAddr
	}
	if c.Relay.ChannelPrefix == "" {
		c.Relay.ChannelPrefix = DefaultChannelPrefix
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
