package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/livesub/internal/archive"
	"github.com/rickgao/livesub/internal/protocol"
	"github.com/rickgao/livesub/internal/relay"
)

// sink receives every frame for the configured subscriptions.
type sink struct {
	ctx     context.Context
	logger  *slog.Logger
	archive *archive.Writer // nil when disabled
	relay   *relay.Relay    // nil when disabled

	frames atomic.Int64
}

// handle is the listener callback. It runs on the connection's read
// goroutine, so it must not block for long.
func (s *sink) handle(msg protocol.Message) {
	s.frames.Add(1)

	switch msg.Type {
	case protocol.TypeError:
		s.logger.Warn("subscription error", "id", msg.LogicalID(), "payload", msg.Payload)
	case protocol.TypeComplete:
		s.logger.Info("subscription completed by server", "id", msg.LogicalID())
	default:
		s.logger.Debug("frame", "id", msg.LogicalID(), "type", msg.Type)
	}

	if s.archive != nil {
		s.archive.Record(msg, receivedAt(msg))
	}
	if s.relay != nil {
		if _, err := s.relay.Publish(s.ctx, msg); err != nil {
			s.logger.Warn("relay publish failed", "id", msg.LogicalID(), "error", err)
		}
	}
}

// receivedAt prefers the time the frame came off the socket.
func receivedAt(msg protocol.Message) time.Time {
	if msg.ReceivedAt.IsZero() {
		return time.Now()
	}
	return msg.ReceivedAt
}

// Frames returns the number of frames handled.
func (s *sink) Frames() int64 {
	return s.frames.Load()
}
