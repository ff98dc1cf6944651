package stream

import (
	"time"
)

// Transport is the write side of one live client connection. The HTTP
// layer implements it over a flushed response body; tests implement it
// in memory.
type Transport interface {
	Send(event Event) error
	Close() error
}

// UserConnection tracks one user's live stream. Mutated only by the
// ConnectionManager that owns it (single-writer), so no locking here.
type UserConnection struct {
	UserID      string
	ConnectedAt time.Time

	transport Transport
	lastSeen  time.Time
	watched   map[string]struct{}
}

func newUserConnection(userID string, transport Transport, walletIDs []string, now time.Time) *UserConnection {
	watched := make(map[string]struct{}, len(walletIDs))
	for _, id := range walletIDs {
		watched[id] = struct{}{}
	}
	return &UserConnection{
		UserID:      userID,
		ConnectedAt: now,
		transport:   transport,
		lastSeen:    now,
		watched:     watched,
	}
}

// Watching reports whether this connection cares about the wallet.
func (c *UserConnection) Watching(walletID string) bool {
	_, ok := c.watched[walletID]
	return ok
}

// send writes one event and refreshes the liveness timestamp on success.
// A failed send leaves lastSeen alone, so a dead transport ages out.
func (c *UserConnection) send(event Event, now time.Time) error {
	if err := c.transport.Send(event); err != nil {
		return err
	}
	c.lastSeen = now
	return nil
}
