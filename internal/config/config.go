package config

import "time"

// Config is the root configuration for a livesub process.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Auth          AuthConfig           `yaml:"auth"`
	Connection    ConnectionConfig     `yaml:"connection"`
	Watch         WatchConfig          `yaml:"watch"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Archive       ArchiveConfig        `yaml:"archive"`
	Relay         RelayConfig          `yaml:"relay"`
}

// ServerConfig holds the subscription endpoint.
type ServerConfig struct {
	URL string `yaml:"url"` // ws:// or wss:// endpoint
}

// AuthConfig selects the token source. The first one set wins:
// Token, then TokenEnv, then KeyID + PrivateKeyPath.
type AuthConfig struct {
	Token          string `yaml:"token"`
	TokenEnv       string `yaml:"token_env"`        // Re-read on every connect
	KeyID          string `yaml:"key_id"`           // Key ID for signed tokens
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
	SignedPath     string `yaml:"signed_path"`
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ExponentialBackoff   bool          `yaml:"exponential_backoff"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ResetAttemptsOnReady bool          `yaml:"reset_attempts_on_ready"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	FailOnMalformedFrame bool          `yaml:"fail_on_malformed_frame"`
	CompletePolicy       string        `yaml:"complete_policy"` // always | last_listener
}

// WatchConfig holds network watcher settings.
type WatchConfig struct {
	Disabled      bool          `yaml:"disabled"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// SubscriptionConfig is one subscription opened at startup.
type SubscriptionConfig struct {
	ID    string `yaml:"id"`    // Logical id, must not contain "|"
	Query string `yaml:"query"` // GraphQL document
}

// ArchiveConfig enables storing received frames in PostgreSQL/TimescaleDB.
type ArchiveConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Database DBConfig `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RelayConfig enables republishing received frames on Redis pub/sub.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}
