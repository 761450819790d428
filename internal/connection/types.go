package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/livesub/internal/registry"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNoServerURL        = errors.New("server url is required")
	ErrNoTokenProvider    = errors.New("token provider is required")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrSendFailed         = errors.New("send failed")
	ErrSocketClosed       = errors.New("socket closed")
)

// TimestampedMessage wraps raw frame data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Socket is one open transport connection.
type Socket interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns inbound frames in arrival order. It is closed once
	// the read side ends; every frame read before then is delivered first.
	Messages() <-chan TimestampedMessage

	// Errors reports the read error that ended the connection. The error is
	// sent before Messages is closed.
	Errors() <-chan error

	// Done is closed once the socket is closed locally.
	Done() <-chan struct{}

	// Close closes the socket. Safe to call more than once.
	Close() error
}

// Dialer opens a Socket to url.
type Dialer func(ctx context.Context, url string) (Socket, error)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial + upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	ReconnectDelay       time.Duration // Fixed delay, or initial delay with exponential backoff
	ReconnectMaxDelay    time.Duration // Cap for exponential backoff
	ExponentialBackoff   bool          // Opt-in; default is a fixed delay
	MaxReconnectAttempts int           // Closes allowed before reconnecting stops for good
	ResetAttemptsOnReady bool          // Reset the attempt counter after each handshake
	PingInterval         time.Duration // Keep-alive ping frame interval while ready
	FailOnMalformedFrame bool          // Close the socket instead of dropping bad frames
	CompletePolicy       registry.CompletePolicy
}

// DefaultManagerConfig returns the fixed 3s / 20 attempt policy.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay:       3 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 20,
		PingInterval:         30 * time.Second,
		CompletePolicy:       registry.CompleteAlways,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State         State
	Attempts      int
	Exhausted     bool // Reconnect ceiling reached; no further attempts
	Queue         QueueStats
	Replayable    int
	Subscriptions int
}
