package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/livesub/internal/auth"
	"github.com/rickgao/livesub/internal/protocol"
	"github.com/rickgao/livesub/internal/registry"
)

// Manager multiplexes subscriptions over one WebSocket connection.
type Manager interface {
	// Init stores the server URL and token provider and starts connecting.
	// It may be called once per Manager.
	Init(ctx context.Context, serverURL string, tokens auth.TokenProvider) error

	// SendMessage writes msg now when ready, otherwise queues it.
	SendMessage(msg protocol.Message) error

	// Subscribe registers a listener and forwards initMessage, if any.
	Subscribe(logicalID, listenerID string, cb registry.Callback, initMessage *protocol.Message) error

	// Unsubscribe removes a listener and releases the server subscription.
	Unsubscribe(logicalID, listenerID string) error

	// ReconnectCheck schedules a reconnect when one is needed and allowed.
	ReconnectCheck()

	// SetOnline records network reachability and runs ReconnectCheck.
	SetOnline(online bool)

	// SetVisible records host visibility and runs ReconnectCheck.
	SetVisible(visible bool)

	// State returns the current connection state.
	State() State

	// Stats returns current connection and subscription statistics.
	Stats() ManagerStats

	// Close tears the manager down. It cannot be reused afterwards.
	Close(ctx context.Context) error
}

// manager implements the Manager interface.
type manager struct {
	cfg      ManagerConfig
	dial     Dialer
	logger   *slog.Logger
	registry *registry.Registry

	wg sync.WaitGroup

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	initialized bool
	closed      bool
	url         string
	tokens      auth.TokenProvider
	state       State
	socket      Socket
	gen         uint64 // Bumped whenever the current socket is replaced or dropped
	token       string
	online      bool
	visible     bool
	attempts    int
	exhausted   bool
	history     bool // A connection reached ready at least once
	pingStop    chan struct{}
	reconnect   *time.Timer
	backoff     backoff.BackOff
	queue       *Queue[protocol.Message]
	replay      *ReplaySet
}

// NewManager creates a connection manager. A nil dial uses gorilla/websocket.
func NewManager(cfg ManagerConfig, dial Dialer, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultManagerConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if dial == nil {
		dial = GorillaDialer(DefaultClientConfig(), logger)
	}

	m := &manager{
		cfg:     cfg,
		dial:    dial,
		logger:  logger,
		online:  true,
		visible: true,
		backoff: newBackOff(cfg),
		queue:   NewQueue[protocol.Message](16),
		replay:  NewReplaySet(),
	}
	m.registry = registry.New(m, cfg.CompletePolicy, logger.With("component", "registry"))
	return m
}

// newBackOff returns the reconnect delay policy.
func newBackOff(cfg ManagerConfig) backoff.BackOff {
	if !cfg.ExponentialBackoff {
		return backoff.NewConstantBackOff(cfg.ReconnectDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectDelay
	b.MaxInterval = cfg.ReconnectMaxDelay
	b.Reset()
	return b
}

// Init starts the manager.
func (m *manager) Init(ctx context.Context, serverURL string, tokens auth.TokenProvider) error {
	if serverURL == "" {
		return ErrNoServerURL
	}
	if tokens == nil {
		return ErrNoTokenProvider
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.initialized {
		m.mu.Unlock()
		m.logger.Warn("init called more than once, ignoring", "url", serverURL)
		return ErrAlreadyInitialized
	}
	m.initialized = true
	m.url = serverURL
	m.tokens = tokens
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.startConnectLocked()
	m.mu.Unlock()

	m.logger.Info("subscription manager initialized", "url", serverURL)
	return nil
}

// SendMessage writes msg when ready, otherwise queues it.
func (m *manager) SendMessage(msg protocol.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}

	if m.state != StateReady || m.socket == nil {
		m.queue.Push(msg)
		queued := m.queue.Len()
		m.mu.Unlock()
		m.logger.Debug("queued message", "id", msg.ID, "type", msg.Type, "queued", queued)
		return nil
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if err := m.socket.Send(data); err != nil {
		// Keep the frame; it goes out first after the next handshake.
		m.queue.Push(msg)
		stale := m.closeLocked(m.gen, fmt.Errorf("%w: %v", ErrSendFailed, err))
		m.mu.Unlock()
		m.closeSocket(stale)
		return nil
	}
	m.replay.Record(msg)
	m.mu.Unlock()
	return nil
}

// Subscribe registers a listener with the registry.
func (m *manager) Subscribe(logicalID, listenerID string, cb registry.Callback, initMessage *protocol.Message) error {
	return m.registry.Subscribe(logicalID, listenerID, cb, initMessage)
}

// Unsubscribe removes a listener from the registry.
func (m *manager) Unsubscribe(logicalID, listenerID string) error {
	return m.registry.Unsubscribe(logicalID, listenerID)
}

// ReconnectCheck is idempotent: it does nothing while ready, while a
// connection attempt is in flight, or while a reconnect is scheduled.
func (m *manager) ReconnectCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || m.closed {
		return
	}

	switch m.state {
	case StateReady, StateConnecting, StateAuthenticating, StateReconnecting, StateClosing:
		return
	}

	if !m.online || !m.visible {
		m.logger.Debug("reconnect deferred",
			"online", m.online,
			"visible", m.visible,
		)
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		if !m.exhausted {
			m.exhausted = true
			m.logger.Error("reconnect attempts exhausted, giving up",
				"attempts", m.attempts,
				"max", m.cfg.MaxReconnectAttempts,
			)
		}
		return
	}

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.exhausted = true
		m.logger.Error("reconnect policy stopped", "attempts", m.attempts)
		return
	}

	m.state = StateReconnecting
	m.reconnect = time.AfterFunc(delay, m.onReconnectTimer)

	m.logger.Info("scheduling reconnection",
		"delay", delay,
		"attempt", m.attempts+1,
		"max", m.cfg.MaxReconnectAttempts,
	)
}

// SetOnline records network reachability.
func (m *manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		m.logger.Info("network state changed", "online", online)
	}
	m.ReconnectCheck()
}

// SetVisible records host visibility.
func (m *manager) SetVisible(visible bool) {
	m.mu.Lock()
	changed := m.visible != visible
	m.visible = visible
	m.mu.Unlock()

	if changed {
		m.logger.Info("visibility changed", "visible", visible)
	}
	m.ReconnectCheck()
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:      m.state,
		Attempts:   m.attempts,
		Exhausted:  m.exhausted,
		Queue:      m.queue.Stats(),
		Replayable: m.replay.Len(),
	}
	m.mu.Unlock()

	stats.Subscriptions = m.registry.Len()
	return stats
}

// Close closes the socket, stops timers and waits for goroutines.
func (m *manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosing
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.stopPingLocked()
	sock := m.socket
	m.socket = nil
	m.token = ""
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	discarded := m.queue.Drain()
	m.mu.Unlock()

	m.logger.Info("stopping subscription manager", "discarded", len(discarded))
	m.closeSocket(sock)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		err = ctx.Err()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info("subscription manager stopped")
	return err
}

// onReconnectTimer fires after the reconnect delay.
func (m *manager) onReconnectTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reconnect = nil
	if m.closed || m.state != StateReconnecting {
		return
	}
	m.startConnectLocked()
}

// startConnectLocked discards the current socket and starts a new attempt.
func (m *manager) startConnectLocked() {
	m.gen++
	gen := m.gen
	old := m.socket
	m.socket = nil
	m.token = ""
	m.stopPingLocked()
	m.state = StateConnecting

	m.wg.Add(1)
	go m.connect(m.ctx, gen, m.url, m.tokens, old)
}

// connect dials, authenticates and flushes pending frames.
func (m *manager) connect(ctx context.Context, gen uint64, url string, tokens auth.TokenProvider, old Socket) {
	defer m.wg.Done()

	m.closeSocket(old)

	m.logger.Info("connecting", "url", url)

	sock, err := m.dial(ctx, url)
	if err != nil {
		m.handleClose(gen, fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		m.closeSocket(sock)
		return
	}
	m.socket = sock
	m.state = StateAuthenticating
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(ctx, gen, sock)

	token, err := tokens(ctx)
	if err == nil && token == "" {
		err = auth.ErrEmptyToken
	}
	if err != nil {
		m.logger.Error("failed to resolve auth token", "error", err)
		m.handleClose(gen, fmt.Errorf("%w: %v", ErrAuthFailed, err))
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	if err := m.handshakeLocked(gen, sock, token); err != nil {
		stale := m.closeLocked(gen, err)
		m.mu.Unlock()
		m.closeSocket(stale)
		return
	}
	m.mu.Unlock()
}

// handshakeLocked sends connection_init, drains the queue and, after a
// reconnect, replays every live subscription once.
func (m *manager) handshakeLocked(gen uint64, sock Socket, token string) error {
	m.token = token

	if err := m.writeLocked(sock, protocol.ConnectionInit(token)); err != nil {
		return err
	}

	var pending map[string]protocol.Message
	if m.history {
		pending = m.replay.Snapshot()
	}

	drained := 0
	for {
		msg, ok := m.queue.Peek()
		if !ok {
			break
		}
		if err := m.writeLocked(sock, msg); err != nil {
			return err
		}
		m.queue.Pop()
		m.replay.Record(msg)
		if msg.ID != "" {
			delete(pending, msg.LogicalID())
		}
		drained++
	}

	for _, id := range sortedIDs(pending) {
		if err := m.writeLocked(sock, pending[id]); err != nil {
			return err
		}
	}

	m.history = true
	m.state = StateReady
	if m.cfg.ResetAttemptsOnReady {
		m.attempts = 0
		m.exhausted = false
		m.backoff.Reset()
	}
	m.startPingLocked(gen)

	m.logger.Info("connection ready",
		"drained", drained,
		"replayed", len(pending),
	)
	return nil
}

// writeLocked encodes and writes one frame without touching the replay set.
func (m *manager) writeLocked(sock Socket, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := sock.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// sendControl writes a frame that is neither queued nor replayed. Nothing
// may precede connection_init, so it is a no-op until the socket is ready.
func (m *manager) sendControl(gen uint64, msg protocol.Message) {
	m.mu.Lock()
	if gen != m.gen || m.socket == nil || m.state != StateReady {
		m.mu.Unlock()
		m.logger.Debug("control frame not sent, connection not ready", "type", msg.Type)
		return
	}
	if err := m.writeLocked(m.socket, msg); err != nil {
		stale := m.closeLocked(gen, err)
		m.mu.Unlock()
		m.closeSocket(stale)
		return
	}
	m.mu.Unlock()
}

// handleClose runs close handling for the socket of generation gen.
func (m *manager) handleClose(gen uint64, reason error) {
	m.mu.Lock()
	stale := m.closeLocked(gen, reason)
	m.mu.Unlock()
	m.closeSocket(stale)
}

// closeLocked records a failed cycle and returns the socket to close.
// It does not schedule a retry; that is left to ReconnectCheck.
func (m *manager) closeLocked(gen uint64, reason error) Socket {
	if gen != m.gen || m.closed {
		return nil
	}

	sock := m.socket
	m.socket = nil
	m.gen++
	m.attempts++
	m.token = ""
	m.stopPingLocked()
	m.state = StateDisconnected

	m.logger.Warn("connection closed",
		"reason", reason,
		"attempts", m.attempts,
	)
	return sock
}

// readLoop decodes frames from sock and dispatches them in arrival order.
// A remote close is handled only after every frame read before it has been
// dispatched. A socket closed locally is abandoned without draining.
func (m *manager) readLoop(ctx context.Context, gen uint64, sock Socket) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sock.Done():
			m.handleClose(gen, ErrSocketClosed)
			return

		case frame, ok := <-sock.Messages():
			if !ok {
				m.handleClose(gen, readError(sock))
				return
			}
			if !m.handleFrame(gen, frame) {
				return
			}
		}
	}
}

// readError returns the error that ended sock's read side, if one was reported.
func readError(sock Socket) error {
	select {
	case err := <-sock.Errors():
		if err != nil {
			return err
		}
	default:
	}
	return ErrSocketClosed
}

// handleFrame processes one inbound frame. It returns false when the
// socket was closed because of the frame.
func (m *manager) handleFrame(gen uint64, frame TimestampedMessage) bool {
	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if !current {
		return false
	}

	msg, err := protocol.Decode(frame.Data)
	if err != nil {
		if !m.cfg.FailOnMalformedFrame {
			m.logger.Warn("dropping malformed frame", "error", err, "size", len(frame.Data))
			return true
		}
		m.logger.Error("malformed frame", "error", err)
		m.handleClose(gen, err)
		return false
	}
	msg.ReceivedAt = frame.ReceivedAt

	switch msg.Type {
	case protocol.TypePing:
		m.sendControl(gen, protocol.Pong())
	case protocol.TypeConnectionAck:
		m.logger.Debug("connection acknowledged")
	case protocol.TypeError:
		m.logger.Warn("server reported error", "id", msg.ID, "payload", msg.Payload)
	}

	m.registry.Dispatch(msg)
	return true
}

// startPingLocked arms the keep-alive ticker for generation gen.
func (m *manager) startPingLocked(gen uint64) {
	m.stopPingLocked()

	stop := make(chan struct{})
	m.pingStop = stop
	interval := m.cfg.PingInterval

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sendControl(gen, protocol.Ping())
			}
		}
	}()
}

// stopPingLocked disarms the keep-alive ticker.
func (m *manager) stopPingLocked() {
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
}

func (m *manager) closeSocket(sock Socket) {
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil && !errors.Is(err, ErrAlreadyClosed) {
		m.logger.Debug("socket close failed", "error", err)
	}
}
