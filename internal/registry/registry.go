// Package registry fans inbound frames out to local listeners.
//
// Listeners are keyed by logical id and listener id. Many listeners may
// share one logical id; the server only ever sees one subscription for it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/livesub/internal/protocol"
)

// Errors
var (
	ErrEmptyLogicalID  = errors.New("logical id is required")
	ErrEmptyListenerID = errors.New("listener id is required")
	ErrNilCallback     = errors.New("callback is required")
	ErrUnknownPolicy   = errors.New("unknown complete policy")
)

// Callback receives every frame dispatched to its logical id.
type Callback func(protocol.Message)

// Sender delivers outbound frames, usually the connection manager.
type Sender interface {
	SendMessage(msg protocol.Message) error
}

// CompletePolicy decides when Unsubscribe sends a complete frame.
type CompletePolicy int

const (
	// CompleteAlways sends complete on every successful Unsubscribe, even if
	// other listeners still use the logical id. This tears down a shared
	// server-side subscription early and is kept only as the default.
	CompleteAlways CompletePolicy = iota

	// CompleteOnLastListener sends complete only when the last listener for
	// a logical id is removed.
	CompleteOnLastListener
)

func (p CompletePolicy) String() string {
	switch p {
	case CompleteAlways:
		return "always"
	case CompleteOnLastListener:
		return "last_listener"
	default:
		return fmt.Sprintf("CompletePolicy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name as printed by String.
func ParsePolicy(name string) (CompletePolicy, error) {
	switch name {
	case "", "always":
		return CompleteAlways, nil
	case "last_listener":
		return CompleteOnLastListener, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Registry maps logical id -> listener id -> callback.
type Registry struct {
	sender Sender
	policy CompletePolicy
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[string]map[string]Callback
}

// New creates a Registry sending control frames through sender.
func New(sender Sender, policy CompletePolicy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		sender:    sender,
		policy:    policy,
		logger:    logger,
		listeners: make(map[string]map[string]Callback),
	}
}

// Subscribe registers cb under (logicalID, listenerID), replacing any
// previous callback for the pair. A non-nil initMessage is forwarded to the
// sender after registration.
func (r *Registry) Subscribe(logicalID, listenerID string, cb Callback, initMessage *protocol.Message) error {
	if logicalID == "" {
		return ErrEmptyLogicalID
	}
	if listenerID == "" {
		return ErrEmptyListenerID
	}
	if cb == nil {
		return ErrNilCallback
	}

	r.mu.Lock()
	byListener, ok := r.listeners[logicalID]
	if !ok {
		byListener = make(map[string]Callback)
		r.listeners[logicalID] = byListener
	}
	byListener[listenerID] = cb
	count := len(byListener)
	r.mu.Unlock()

	r.logger.Debug("listener subscribed",
		"logical_id", logicalID,
		"listener_id", listenerID,
		"listeners", count,
	)

	if initMessage == nil {
		return nil
	}
	if err := r.sender.SendMessage(*initMessage); err != nil {
		return fmt.Errorf("send init message for %s: %w", logicalID, err)
	}
	return nil
}

// Unsubscribe removes (logicalID, listenerID). When the pair was registered
// a complete frame for logicalID is sent according to the policy. Removing
// an unknown pair is a no-op.
func (r *Registry) Unsubscribe(logicalID, listenerID string) error {
	r.mu.Lock()
	byListener, ok := r.listeners[logicalID]
	if ok {
		_, ok = byListener[listenerID]
	}
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(byListener, listenerID)
	remaining := len(byListener)
	if remaining == 0 {
		delete(r.listeners, logicalID)
	}
	r.mu.Unlock()

	r.logger.Debug("listener unsubscribed",
		"logical_id", logicalID,
		"listener_id", listenerID,
		"remaining", remaining,
	)

	if r.policy == CompleteOnLastListener && remaining > 0 {
		return nil
	}
	if err := r.sender.SendMessage(protocol.Complete(logicalID)); err != nil {
		return fmt.Errorf("send complete for %s: %w", logicalID, err)
	}
	return nil
}

// Dispatch invokes every callback registered under the frame's logical id
// and returns how many ran. Callbacks are snapshotted first, so they may
// subscribe or unsubscribe while being dispatched.
func (r *Registry) Dispatch(msg protocol.Message) int {
	logicalID := msg.LogicalID()

	r.mu.RLock()
	byListener := r.listeners[logicalID]
	callbacks := make([]Callback, 0, len(byListener))
	for _, cb := range byListener {
		callbacks = append(callbacks, cb)
	}
	r.mu.RUnlock()

	for _, cb := range callbacks {
		r.invoke(logicalID, cb, msg)
	}
	return len(callbacks)
}

func (r *Registry) invoke(logicalID string, cb Callback, msg protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"logical_id", logicalID,
				"type", msg.Type,
				"panic", rec,
			)
		}
	}()
	cb(msg)
}

// Listeners returns the number of listeners for logicalID.
func (r *Registry) Listeners(logicalID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[logicalID])
}

// Len returns the number of logical ids with at least one listener.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
