package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/civicmesh/presence/internal/auth/jwt"
	"github.com/civicmesh/presence/internal/common/config"
	"github.com/civicmesh/presence/internal/database"
	"github.com/civicmesh/presence/internal/realtime/broker"
	"github.com/civicmesh/presence/pkg/metrics"

	"go.uber.org/zap"
)

// Store is the slice of the database the session manager depends on.
// database.Database satisfies it.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*database.User, error)
	GetHelpRequestByID(ctx context.Context, id int64) (*database.HelpRequest, error)
	SaveMessage(ctx context.Context, message *database.Message) error
	InsertConnection(ctx context.Context, userID int64, connectionID string) error
	DeleteConnectionByConnID(ctx context.Context, connectionID string) error
	ListConnections(ctx context.Context) ([]*database.UserConnection, error)
}

// TokenService validates bearer tokens presented on authenticate
type TokenService interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// HealthStatus is the monitoring health object
type HealthStatus struct {
	ActiveConnections int    `json:"activeConnections"`
	RetryAttempts     int    `json:"retryAttempts"`
	Timestamp         string `json:"timestamp"`
}

const storeTimeout = 5 * time.Second

// Manager tracks every live realtime connection: it authenticates them
// post-hoc, runs the per-connection heartbeat and idle watchdog, brokers
// room broadcasts, applies the retry backoff policy and periodically
// reconciles in-memory state against the persisted connection table.
type Manager struct {
	logger   *zap.Logger
	cfg      config.RealtimeConfig
	store    Store
	tokens   TokenService
	broker   broker.Broker
	metrics  *metrics.Metrics
	registry *Registry
	retries  *RetryTracker

	done chan struct{}
}

// NewManager creates the session manager and its room broker
func NewManager(logger *zap.Logger, cfg config.RealtimeConfig, brokerCfg *config.BrokerConfig, store Store, tokens TokenService, m *metrics.Metrics) (*Manager, error) {
	cfg.SetDefaults()

	mgr := &Manager{
		logger:   logger.Named("realtime.manager"),
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		metrics:  m,
		registry: NewRegistry(logger),
		retries:  NewRetryTracker(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		done:     make(chan struct{}),
	}

	b, err := broker.NewBroker(logger, brokerCfg, mgr.deliver)
	if err != nil {
		return nil, err
	}
	mgr.broker = b
	return mgr, nil
}

// Start launches the periodic reconciler
func (m *Manager) Start() {
	go m.reconcileLoop()
	m.logger.Info("session manager started",
		zap.Duration("heartbeatInterval", m.cfg.HeartbeatInterval),
		zap.Duration("idleTimeout", m.cfg.IdleTimeout),
		zap.Duration("reconcileInterval", m.cfg.ReconcileInterval))
}

// deliver is the broker's path back to a local connection
func (m *Manager) deliver(connID, event string, payload any) {
	sess, ok := m.registry.Get(connID)
	if !ok {
		return
	}
	if err := sess.conn.Emit(event, payload); err != nil {
		m.logger.Debug("delivery failed",
			zap.String("connectionId", connID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// emit sends an event to one connection, logging failures
func (m *Manager) emit(conn Conn, event string, payload any) {
	if err := conn.Emit(event, payload); err != nil {
		m.logger.Debug("emit failed",
			zap.String("connectionId", conn.ID()),
			zap.String("event", event),
			zap.Error(err))
	}
}

// HandleConnect registers a new transport connection and arms its
// lifecycle timers
func (m *Manager) HandleConnect(conn Conn) error {
	sess, err := m.registry.Register(conn)
	if err != nil {
		return err
	}

	m.metrics.ActiveConnections.Inc()
	m.metrics.ConnectionsTotal.Inc()
	m.logger.Info("connection established", zap.String("connectionId", conn.ID()))

	go m.heartbeatLoop(sess)
	sess.armIdle(m.cfg.IdleTimeout, func() { m.checkIdle(sess) })
	return nil
}

// heartbeatLoop pings the connection on an interval while the transport
// reports connected; it self-cancels otherwise.
func (m *Manager) heartbeatLoop(sess *Session) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.heartbeatStop:
			return
		case <-ticker.C:
			if !sess.conn.Connected() {
				return
			}
			m.emit(sess.conn, EventPing, PingPayload{Timestamp: time.Now().UnixMilli()})
		}
	}
}

// checkIdle is the recurring idle watchdog: it closes the connection only
// when a full idle window elapsed with no inbound activity, otherwise it
// re-arms itself, so activity extends the session indefinitely.
func (m *Manager) checkIdle(sess *Session) {
	if _, ok := m.registry.Get(sess.ID()); !ok {
		return
	}

	idle := time.Since(sess.LastActivity())
	if idle >= m.cfg.IdleTimeout {
		m.logger.Info("idle timeout",
			zap.String("connectionId", sess.ID()),
			zap.Duration("idle", idle))
		m.emit(sess.conn, EventIdleTimeout, IdleTimeoutPayload{
			Message:  "Connection closed due to inactivity",
			IdleTime: int64(idle.Round(time.Minute) / time.Minute),
		})
		m.forceDisconnect(sess.conn, "idle_timeout")
		return
	}
	sess.armIdle(m.cfg.IdleTimeout, func() { m.checkIdle(sess) })
}

// Dispatch routes one inbound event. The activity stamp is advanced
// before the event's own handler runs, for every event kind. A panic in
// a handler is contained to the triggering connection.
func (m *Manager) Dispatch(conn Conn, event string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in event handler",
				zap.String("connectionId", conn.ID()),
				zap.String("event", event),
				zap.Any("panic", r))
			m.emit(conn, EventError, ErrorPayload{Message: "Internal server error"})
		}
	}()

	if sess, ok := m.registry.Get(conn.ID()); ok {
		sess.Touch()
	}

	start := time.Now()
	defer func() {
		m.metrics.EventDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	}()

	switch event {
	case EventAuthenticate:
		m.handleAuthenticate(conn, data)
	case EventJoinHelpRequest:
		m.handleJoinHelpRequest(conn, data)
	case EventLeaveHelpRequest:
		m.handleLeaveHelpRequest(conn, data)
	case EventSendMessage:
		m.handleSendMessage(conn, data)
	case EventRetryConnection:
		m.handleRetryConnection(conn)
	case EventPong:
		m.handlePong(conn, data)
	case EventDisconnecting:
		m.handleDisconnecting(conn)
	case EventError:
		m.handleClientError(conn, data)
	default:
		m.logger.Debug("unknown event",
			zap.String("connectionId", conn.ID()),
			zap.String("event", event))
	}
}

// handleAuthenticate binds the connection to a user. Side effects run in
// a fixed order so a persistence failure leaves nothing partially
// joined: insert the persisted record first, then bind the session, join
// the per-user room and clear retry state.
func (m *Manager) handleAuthenticate(conn Conn, data json.RawMessage) {
	var token string
	if err := json.Unmarshal(data, &token); err != nil || token == "" {
		m.emit(conn, EventAuthError, ErrorPayload{Message: "Invalid token format"})
		m.metrics.AuthTotal.WithLabelValues("invalid_token").Inc()
		return
	}

	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrMissingUserID) {
			m.emit(conn, EventAuthError, ErrorPayload{Message: "Invalid user ID in token"})
		} else {
			m.emit(conn, EventAuthError, ErrorPayload{Message: "Invalid token format"})
		}
		m.metrics.AuthTotal.WithLabelValues("invalid_token").Inc()
		return
	}
	userID := claims.UserID

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := m.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			m.emit(conn, EventAuthError, ErrorPayload{Message: "User not found"})
			m.metrics.AuthTotal.WithLabelValues("user_not_found").Inc()
		} else {
			m.logger.Error("user lookup failed", zap.Int64("userId", userID), zap.Error(err))
			m.emit(conn, EventAuthError, ErrorPayload{Message: "Authentication failed"})
			m.metrics.AuthTotal.WithLabelValues("error").Inc()
		}
		return
	}

	sess, ok := m.registry.Get(conn.ID())
	if !ok {
		m.emit(conn, EventAuthError, ErrorPayload{Message: "Authentication failed"})
		return
	}

	if sess.Authenticated() {
		// Duplicate authenticate: acknowledge again, insert nothing.
		m.emit(conn, EventAuthenticated, AuthenticatedPayload{
			UserID:    sess.UserID(),
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	if err := m.store.InsertConnection(ctx, userID, conn.ID()); err != nil {
		m.logger.Error("failed to persist connection record",
			zap.String("connectionId", conn.ID()),
			zap.Int64("userId", userID),
			zap.Error(err))
		m.emit(conn, EventAuthError, ErrorPayload{Message: "Authentication failed"})
		m.metrics.AuthTotal.WithLabelValues("error").Inc()
		return
	}

	if !sess.setUserID(userID) {
		// Lost a race with a concurrent authenticate; the record just
		// inserted is the duplicate, remove it.
		if err := m.store.DeleteConnectionByConnID(ctx, conn.ID()); err != nil {
			m.logger.Error("failed to remove duplicate connection record",
				zap.String("connectionId", conn.ID()), zap.Error(err))
		}
		m.emit(conn, EventAuthenticated, AuthenticatedPayload{
			UserID:    sess.UserID(),
			Timestamp: time.Now().UnixMilli(),
		})
		return
	}

	m.broker.Join(conn.ID(), userRoom(userID))
	m.retries.Clear(conn.ID())
	m.metrics.AuthTotal.WithLabelValues("ok").Inc()

	m.emit(conn, EventAuthenticated, AuthenticatedPayload{
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	})
	m.logger.Info("connection authenticated",
		zap.String("connectionId", conn.ID()),
		zap.Int64("userId", userID))
}

func (m *Manager) handleJoinHelpRequest(conn Conn, data json.RawMessage) {
	sess, ok := m.registry.Get(conn.ID())
	if !ok || !sess.Authenticated() {
		m.emit(conn, EventError, ErrorPayload{Message: "Not authenticated"})
		return
	}

	var helpRequestID int64
	if err := json.Unmarshal(data, &helpRequestID); err != nil || helpRequestID <= 0 {
		m.emit(conn, EventError, ErrorPayload{Message: "Invalid help request ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := m.store.GetHelpRequestByID(ctx, helpRequestID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			m.emit(conn, EventError, ErrorPayload{Message: "Help request not found"})
		} else {
			m.logger.Error("help request lookup failed", zap.Int64("helpRequestId", helpRequestID), zap.Error(err))
			m.emit(conn, EventError, ErrorPayload{Message: "Failed to join room"})
		}
		return
	}

	room := helpRequestRoom(helpRequestID)
	m.broker.Join(conn.ID(), room)
	m.logger.Debug("joined room",
		zap.String("connectionId", conn.ID()),
		zap.String("room", room))
	m.emit(conn, EventRoomJoined, RoomPayload{RoomID: room})
}

func (m *Manager) handleLeaveHelpRequest(conn Conn, data json.RawMessage) {
	var helpRequestID int64
	if err := json.Unmarshal(data, &helpRequestID); err != nil || helpRequestID <= 0 {
		return
	}

	room := helpRequestRoom(helpRequestID)
	m.broker.Leave(conn.ID(), room)
	m.logger.Debug("left room",
		zap.String("connectionId", conn.ID()),
		zap.String("room", room))
	m.emit(conn, EventRoomLeft, RoomPayload{RoomID: room})
}

// handleSendMessage persists the message before anything is broadcast;
// a persistence failure aborts delivery entirely.
func (m *Manager) handleSendMessage(conn Conn, data json.RawMessage) {
	sess, ok := m.registry.Get(conn.ID())
	if !ok || !sess.Authenticated() {
		m.emit(conn, EventError, ErrorPayload{Message: "Not authenticated"})
		return
	}

	var req SendMessagePayload
	if err := json.Unmarshal(data, &req); err != nil || req.HelpRequestID <= 0 {
		m.emit(conn, EventError, ErrorPayload{Message: "Invalid help request ID"})
		return
	}

	body := strings.TrimSpace(req.Message)
	if body == "" {
		m.emit(conn, EventError, ErrorPayload{Message: "Message cannot be empty"})
		return
	}
	if utf8.RuneCountInString(req.Message) > m.cfg.MaxMessageLength {
		m.emit(conn, EventError, ErrorPayload{Message: "Message too long (max 1000 characters)"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg := &database.Message{
		HelpRequestID: req.HelpRequestID,
		SenderID:      sess.UserID(),
		Message:       body,
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		m.logger.Error("failed to save message",
			zap.String("connectionId", conn.ID()),
			zap.Int64("helpRequestId", req.HelpRequestID),
			zap.Error(err))
		m.emit(conn, EventError, ErrorPayload{Message: "Failed to save message"})
		return
	}

	senderName := "Unknown"
	var avatar *string
	if sender, err := m.store.GetUserByID(ctx, sess.UserID()); err == nil {
		senderName = sender.Username
		avatar = sender.AvatarURL
	}

	room := helpRequestRoom(req.HelpRequestID)
	if err := m.broker.Broadcast(room, EventNewMessage, NewMessagePayload{
		ID:        msg.ID,
		Message:   body,
		Sender:    senderName,
		Avatar:    avatar,
		Timestamp: msg.CreatedAt,
	}); err != nil {
		m.logger.Error("broadcast failed", zap.String("room", room), zap.Error(err))
	}
	m.metrics.MessagesTotal.Inc()
	m.metrics.BroadcastsTotal.Inc()

	m.emit(conn, EventMessageSent, MessageSentPayload{
		MessageID: msg.ID,
		Timestamp: msg.CreatedAt,
	})
}

func (m *Manager) handleRetryConnection(conn Conn) {
	info, err := m.retries.Record(conn.ID())
	if errors.Is(err, ErrMaxRetriesExceeded) {
		m.emit(conn, EventMaxRetriesReached, MaxRetriesPayload{
			Message: "Maximum retry attempts reached",
		})
		m.forceDisconnect(conn, "max_retries_exceeded")
		return
	}

	m.metrics.RetriesTotal.Inc()
	m.logger.Info("connection retry",
		zap.String("connectionId", conn.ID()),
		zap.Int("attempt", info.Attempt),
		zap.Int("maxRetries", info.MaxRetries),
		zap.Duration("delay", info.Delay))

	time.AfterFunc(info.Delay, func() {
		if !conn.Connected() {
			return
		}
		m.emit(conn, EventConnectionRetry, ConnectionRetryPayload{
			Attempt:    info.Attempt,
			MaxRetries: info.MaxRetries,
			NextDelay:  info.NextDelay.Milliseconds(),
		})
	})
}

func (m *Manager) handlePong(conn Conn, data json.RawMessage) {
	var pong PongPayload
	if err := json.Unmarshal(data, &pong); err != nil {
		return
	}
	latency := time.Now().UnixMilli() - pong.Timestamp
	m.logger.Debug("heartbeat response",
		zap.String("connectionId", conn.ID()),
		zap.Int64("latencyMs", latency))
}

func (m *Manager) handleDisconnecting(conn Conn) {
	for _, room := range m.broker.Rooms(conn.ID()) {
		m.logger.Debug("leaving room on disconnect",
			zap.String("connectionId", conn.ID()),
			zap.String("room", room))
	}
}

func (m *Manager) handleClientError(conn Conn, data json.RawMessage) {
	m.logger.Warn("client reported error",
		zap.String("connectionId", conn.ID()),
		zap.ByteString("data", data))
	m.emit(conn, EventErrorHandled, ErrorHandledPayload{
		Message:   "An error occurred",
		Timestamp: time.Now().UnixMilli(),
	})
}

// HandleDisconnect cleans up after the transport reports the connection gone
func (m *Manager) HandleDisconnect(connID, reason string) {
	m.logger.Info("connection closed",
		zap.String("connectionId", connID),
		zap.String("reason", reason))
	m.cleanup(connID)
}

// forceDisconnect closes the transport and removes bookkeeping without
// waiting for the close to complete
func (m *Manager) forceDisconnect(conn Conn, reason string) {
	m.logger.Info("force disconnect",
		zap.String("connectionId", conn.ID()),
		zap.String("reason", reason))
	if err := conn.Close(); err != nil {
		m.logger.Debug("close failed", zap.String("connectionId", conn.ID()), zap.Error(err))
	}
	m.cleanup(conn.ID())
}

// cleanup is the single teardown path for every exit transition. The
// registry removal is the guard: only the caller that wins it runs the
// teardown, so a reconciler sweep racing a transport disconnect cannot
// release timers or decrement the gauge twice.
func (m *Manager) cleanup(connID string) {
	if sess, removed := m.registry.Remove(connID); removed {
		sess.teardown()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := m.store.DeleteConnectionByConnID(ctx, connID); err != nil {
			m.logger.Error("failed to delete connection record",
				zap.String("connectionId", connID),
				zap.Error(err))
		}
		cancel()

		m.broker.LeaveAll(connID)
		m.metrics.ActiveConnections.Dec()
	}
	m.retries.Clear(connID)
}

func (m *Manager) reconcileLoop() {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

// reconcile runs the two independent sweeps: stale live sessions and
// orphaned persisted records, plus the retry-state purge.
func (m *Manager) reconcile() {
	now := time.Now()
	stale := 0
	for _, sess := range m.registry.all() {
		if now.Sub(sess.LastActivity()) <= m.cfg.StaleAfter {
			continue
		}
		stale++
		if sess.conn.Connected() {
			m.forceDisconnect(sess.conn, "stale_connection")
		} else {
			// Transport already gone, clean bookkeeping directly.
			m.cleanup(sess.ID())
		}
	}
	if stale > 0 {
		m.metrics.StaleCleaned.Add(float64(stale))
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	records, err := m.store.ListConnections(ctx)
	if err != nil {
		m.logger.Error("failed to list connection records", zap.Error(err))
	} else {
		orphans := 0
		for _, rec := range records {
			if _, live := m.registry.Get(rec.ConnectionID); live {
				continue
			}
			if err := m.store.DeleteConnectionByConnID(ctx, rec.ConnectionID); err != nil {
				m.logger.Error("failed to delete orphaned record",
					zap.String("connectionId", rec.ConnectionID),
					zap.Error(err))
				continue
			}
			orphans++
		}
		if orphans > 0 {
			m.metrics.OrphansDeleted.Add(float64(orphans))
			m.logger.Info("deleted orphaned connection records", zap.Int("count", orphans))
		}
	}

	if purged := m.retries.PurgeOlderThan(m.cfg.RetryTTL); purged > 0 {
		m.logger.Debug("purged stale retry entries", zap.Int("count", purged))
	}

	m.logger.Debug("reconciliation complete",
		zap.Int("activeConnections", m.registry.Count()),
		zap.Int("staleCleaned", stale))
}

// ConnectionCount returns the number of live sessions
func (m *Manager) ConnectionCount() int {
	return m.registry.Count()
}

// Sessions returns a copy of every live session's state
func (m *Manager) Sessions() []SessionSnapshot {
	return m.registry.Snapshot()
}

// RetryAttempts returns a copy of the retry tracker state
func (m *Manager) RetryAttempts() map[string]RetrySnapshot {
	return m.retries.Snapshot()
}

// Health returns the monitoring health object
func (m *Manager) Health() HealthStatus {
	return HealthStatus{
		ActiveConnections: m.registry.Count(),
		RetryAttempts:     m.retries.Len(),
		Timestamp:         time.Now().Format(time.RFC3339),
	}
}

// Shutdown stops the reconciler, force-disconnects every live connection
// and runs cleanup for each
func (m *Manager) Shutdown() {
	m.logger.Info("shutting down session manager")

	select {
	case <-m.done:
	default:
		close(m.done)
	}

	for _, sess := range m.registry.all() {
		m.forceDisconnect(sess.conn, "shutdown")
	}

	if err := m.broker.Close(); err != nil {
		m.logger.Warn("failed to close broker", zap.Error(err))
	}
	m.logger.Info("session manager shutdown complete")
}
