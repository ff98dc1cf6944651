package stream

import (
	"github.com/rs/zerolog"
)

// Broadcaster is the publish side the sync orchestrator talks to. Events
// always go through the shared bus when one is configured, so the worker
// that runs a sync does not need to be the process holding the user's
// connection. Without a bus it degrades to direct local delivery.
type Broadcaster struct {
	bus    Bus
	local  *ConnectionManager
	logger zerolog.Logger
}

func NewBroadcaster(bus Bus, local *ConnectionManager, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:    bus,
		local:  local,
		logger: logger,
	}
}

// Start wires bus receipt to local delivery. Every process calls this, so
// whichever one holds the user's connection picks the event up.
func (b *Broadcaster) Start() error {
	if b.bus == nil {
		b.logger.Warn().Msg("no broadcast channel configured, events stay process-local")
		return nil
	}
	return b.bus.Subscribe(func(msg BusMessage) {
		b.local.Deliver(msg.UserID, msg.WalletID, msg.Event)
	})
}

func (b *Broadcaster) PublishProgress(userID, walletID string, progress int, status string) {
	b.publish(userID, walletID, NewSyncProgress(walletID, progress, status))
}

func (b *Broadcaster) PublishCompleted(userID, walletID string, syncedData []string) {
	b.publish(userID, walletID, NewSyncCompleted(walletID, syncedData))
}

func (b *Broadcaster) PublishFailed(userID, walletID string, errMsg string) {
	b.publish(userID, walletID, NewSyncFailed(walletID, errMsg))
}

// publish sends through the bus when configured; a publish failure is
// logged and dropped rather than surfaced, since live events are
// best-effort and never a correctness dependency of the sync itself.
func (b *Broadcaster) publish(userID, walletID string, event Event) {
	if b.bus == nil {
		b.local.Deliver(userID, walletID, event)
		return
	}
	msg := BusMessage{UserID: userID, WalletID: walletID, Event: event}
	if err := b.bus.Publish(msg); err != nil {
		b.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("wallet_id", walletID).
			Str("event_type", event.Type).
			Msg("broadcast publish failed, event dropped")
	}
}

// Close detaches the bus subscription.
func (b *Broadcaster) Close() {
	if b.bus != nil {
		b.bus.Close()
	}
}
