// Package relay republishes received subscription frames on Redis pub/sub so
// other processes can consume them without their own server connection.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/livesub/internal/protocol"
)

// Publisher is the subset of *redis.Client the relay uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay publishes frames on "<prefix>:<logical id>".
type Relay struct {
	client Publisher
	prefix string
	logger *slog.Logger
}

// New creates a Relay.
func New(client Publisher, prefix string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, prefix: prefix, logger: logger}
}

// NewClient opens a Redis client and verifies it with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Publish sends the JSON frame and returns the number of receivers.
func (r *Relay) Publish(ctx context.Context, msg protocol.Message) (int64, error) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("marshalling frame: %w", err)
	}

	channel := r.Channel(msg.LogicalID())
	receivers, err := r.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", channel, err)
	}

	r.logger.Debug("relayed frame", "channel", channel, "receivers", receivers)
	return receivers, nil
}

// Channel returns the pub/sub channel for a logical id.
func (r *Relay) Channel(logicalID string) string {
	return formatChannel(r.prefix, logicalID)
}

func formatChannel(prefix, logicalID string) string {
	if prefix == "" {
		return logicalID
	}
	return fmt.Sprintf("%s:%s", prefix, logicalID)
}
