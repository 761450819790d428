package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subprotocol is the WebSocket sub-protocol token negotiated on connect.
const Subprotocol = "graphql-transport-ws"

// SaltSeparator splits a logical id from its local salt.
const SaltSeparator = "|"

// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Type is the frame type.
type Type string

const (
	TypeConnectionInit Type = "connection_init"
	TypeConnectionAck  Type = "connection_ack"
	TypeSubscribe      Type = "subscribe"
	TypeNext           Type = "next"
	TypeComplete       Type = "complete"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
)

// Payload carries frame data. Outbound payloads hold string values
// (query, authorization); inbound "next" payloads may nest.
type Payload map[string]any

// Message is a single frame.
type Message struct {
	ID      string  `json:"id,omitempty"`
	Type    Type    `json:"type"`
	Payload Payload `json:"payload,omitempty"`

	// ReceivedAt is when an inbound frame was read off the socket.
	// Zero for outbound frames; never encoded.
	ReceivedAt time.Time `json:"-"`
}

// LogicalID returns the id with any salt suffix removed.
func (m Message) LogicalID() string {
	return LogicalID(m.ID)
}

// Query returns the payload query string, if any.
func (m Message) Query() string {
	q, _ := m.Payload["query"].(string)
	return q
}

// IsMutation reports whether the message carries a GraphQL mutation.
// Mutations are never replayed after a reconnect.
func (m Message) IsMutation() bool {
	q := strings.TrimSpace(m.Query())
	if !strings.HasPrefix(q, "mutation") {
		return false
	}
	rest := q[len("mutation"):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ' ', '\t', '\n', '\r', '{', '(':
		return true
	}
	return false
}

// LogicalID strips a "|"-delimited salt from id.
func LogicalID(id string) string {
	if i := strings.Index(id, SaltSeparator); i >= 0 {
		return id[:i]
	}
	return id
}

// Salted returns logicalID with a fresh random salt appended.
func Salted(logicalID string) string {
	return logicalID + SaltSeparator + uuid.NewString()
}

// ConnectionInit builds the handshake frame carrying the auth token.
func ConnectionInit(token string) Message {
	return Message{
		Type:    TypeConnectionInit,
		Payload: Payload{"authorization": token},
	}
}

// Subscribe builds a subscribe frame for query.
func Subscribe(id, query string) Message {
	return Message{
		ID:      id,
		Type:    TypeSubscribe,
		Payload: Payload{"query": query},
	}
}

// Complete builds a complete frame releasing the server-side subscription.
func Complete(id string) Message {
	return Message{ID: id, Type: TypeComplete}
}

// Ping builds a keep-alive frame.
func Ping() Message { return Message{Type: TypePing} }

// Pong answers a server ping.
func Pong() Message { return Message{Type: TypePong} }

// Encode serializes a frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses an inbound frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return m, nil
}
