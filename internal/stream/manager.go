package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"defitrack/internal/observability"
)

// ConnectionManager holds this process's live client connections, one per
// user. A new connection for a user evicts the previous one; delivery is
// gated on the connection watching the referenced wallet.
type ConnectionManager struct {
	heartbeat   time.Duration
	idleTimeout time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics

	mu    sync.Mutex
	conns map[string]*UserConnection
}

func NewConnectionManager(heartbeat, idleTimeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *ConnectionManager {
	return &ConnectionManager{
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
		logger:      logger,
		metrics:     metrics,
		conns:       make(map[string]*UserConnection),
	}
}

// AddConnection registers a user's live stream and immediately confirms
// it with a connection_established event. Any prior connection for the
// same user is closed first.
func (m *ConnectionManager) AddConnection(userID string, transport Transport, walletIDs []string) bool {
	now := time.Now().UTC()

	m.mu.Lock()
	if prev, ok := m.conns[userID]; ok {
		_ = prev.transport.Close()
		m.countEvicted("replaced")
		m.logger.Info().Str("user_id", userID).Msg("replaced existing stream connection")
	}
	conn := newUserConnection(userID, transport, walletIDs, now)
	m.conns[userID] = conn
	total := len(m.conns)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.StreamConnections.Set(float64(total))
	}

	if err := m.sendTo(conn, NewConnectionEstablished(userID)); err != nil {
		m.removeMatching(userID, transport)
		return false
	}
	m.logger.Info().
		Str("user_id", userID).
		Int("watched_wallets", len(walletIDs)).
		Msg("stream connection established")
	return true
}

// Remove drops a user's connection, closing the transport. Safe to call
// for users without one.
func (m *ConnectionManager) Remove(userID string) {
	m.removeMatching(userID, nil)
}

// RemoveIf drops the user's connection only while it still uses the given
// transport. A handler tearing down after its request ends cannot take a
// replacement connection with it.
func (m *ConnectionManager) RemoveIf(userID string, transport Transport) {
	m.removeMatching(userID, transport)
}

func (m *ConnectionManager) removeMatching(userID string, transport Transport) {
	m.mu.Lock()
	conn, ok := m.conns[userID]
	if ok && transport != nil && conn.transport != transport {
		ok = false
	} else if ok {
		delete(m.conns, userID)
	}
	total := len(m.conns)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.transport.Close()
	if m.metrics != nil {
		m.metrics.StreamConnections.Set(float64(total))
	}
	m.logger.Info().Str("user_id", userID).Msg("stream connection removed")
}

// Deliver pushes an event to the user's local connection, applying the
// double gate: the user must have a live connection here, and that
// connection must be watching the referenced wallet. A miss on either
// gate drops the event silently.
func (m *ConnectionManager) Deliver(userID, walletID string, event Event) {
	m.mu.Lock()
	conn, ok := m.conns[userID]
	if ok && walletID != "" && !conn.Watching(walletID) {
		ok = false
		m.countDropped("not_watching")
	} else if !ok {
		m.countDropped("no_connection")
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := m.sendTo(conn, event); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("stream send failed")
		return
	}
	if m.metrics != nil {
		m.metrics.StreamDelivered.WithLabelValues(event.Type).Inc()
	}
}

func (m *ConnectionManager) sendTo(conn *UserConnection, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return conn.send(event, time.Now().UTC())
}

// Run drives heartbeats and idle eviction until ctx ends, then closes
// every remaining connection.
func (m *ConnectionManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep sends a heartbeat to every live connection and evicts the ones
// whose last successful send is older than the idle timeout.
func (m *ConnectionManager) sweep() {
	now := time.Now().UTC()

	m.mu.Lock()
	var dead []string
	for userID, conn := range m.conns {
		if now.Sub(conn.lastSeen) > m.idleTimeout {
			dead = append(dead, userID)
			continue
		}
		if err := conn.send(NewHeartbeat(), now); err == nil && m.metrics != nil {
			m.metrics.StreamHeartbeats.Inc()
		}
	}
	for _, userID := range dead {
		conn := m.conns[userID]
		delete(m.conns, userID)
		_ = conn.transport.Close()
		m.countEvicted("idle")
		m.logger.Info().Str("user_id", userID).Msg("evicted idle stream connection")
	}
	total := len(m.conns)
	m.mu.Unlock()

	if len(dead) > 0 && m.metrics != nil {
		m.metrics.StreamConnections.Set(float64(total))
	}
}

func (m *ConnectionManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, conn := range m.conns {
		_ = conn.transport.Close()
		delete(m.conns, userID)
	}
	if m.metrics != nil {
		m.metrics.StreamConnections.Set(0)
	}
}

// ConnectionCount reports live connections on this process.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *ConnectionManager) countEvicted(reason string) {
	if m.metrics != nil {
		m.metrics.StreamEvicted.WithLabelValues(reason).Inc()
	}
}

func (m *ConnectionManager) countDropped(reason string) {
	if m.metrics != nil {
		m.metrics.StreamDropped.WithLabelValues(reason).Inc()
	}
}
