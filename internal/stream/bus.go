package stream

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"defitrack/internal/observability"
)

var jsonb = jsoniter.ConfigCompatibleWithStandardLibrary

// BusMessage is the cross-process envelope for one stream event. It
// carries routing identity only; the receiving process decides whether a
// local connection gets the event.
type BusMessage struct {
	UserID   string `json:"userId"`
	WalletID string `json:"walletId,omitempty"`
	Event    Event  `json:"event"`
}

// Bus is the shared broadcast channel between server processes. Every
// process publishes sync events to it and subscribes for local delivery.
type Bus interface {
	Publish(msg BusMessage) error
	Subscribe(handler func(BusMessage)) error
	Close()
}

// NATSBus implements Bus over core NATS pub/sub. Core (not JetStream) is
// deliberate: events are at-most-once and best-effort, so durability
// would only add replay of messages nobody can use.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
	metrics *observability.Metrics

	sub *nats.Subscription
}

func NewNATSBus(nc *nats.Conn, subject string, logger zerolog.Logger, metrics *observability.Metrics) *NATSBus {
	return &NATSBus{
		nc:      nc,
		subject: subject,
		logger:  logger,
		metrics: metrics,
	}
}

func (b *NATSBus) Publish(msg BusMessage) error {
	data, err := jsonb.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		if b.metrics != nil {
			b.metrics.BusPublishErrors.Inc()
		}
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	if b.metrics != nil {
		b.metrics.BusPublished.Inc()
	}
	return nil
}

func (b *NATSBus) Subscribe(handler func(BusMessage)) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var msg BusMessage
		if err := jsonb.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn().Err(err).Msg("undecodable bus message dropped")
			return
		}
		if b.metrics != nil {
			b.metrics.BusMessagesReceived.Inc()
		}
		handler(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	b.sub = sub
	return nil
}

func (b *NATSBus) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}
