package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTransport records sent events and can be forced to fail.
type fakeTransport struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (t *fakeTransport) Send(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("broken pipe")
	}
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sent() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeBus loops published messages straight back to the subscriber, like
// a single-process broker.
type fakeBus struct {
	mu        sync.Mutex
	published []BusMessage
	handler   func(BusMessage)
	failNext  bool
}

func (b *fakeBus) Publish(msg BusMessage) error {
	b.mu.Lock()
	if b.failNext {
		b.failNext = false
		b.mu.Unlock()
		return errors.New("broker down")
	}
	b.published = append(b.published, msg)
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
	return nil
}

func (b *fakeBus) Subscribe(handler func(BusMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBus) Close() {}

func newTestManager() *ConnectionManager {
	return NewConnectionManager(30*time.Second, time.Minute, zerolog.Nop(), nil)
}

func TestAddConnectionSendsEstablished(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}

	if ok := m.AddConnection("u1", transport, []string{"w1"}); !ok {
		t.Fatal("AddConnection failed")
	}

	events := transport.sent()
	if len(events) != 1 {
		t.Fatalf("events sent: got %d, want 1", len(events))
	}
	if events[0].Type != EventConnectionEstablished {
		t.Errorf("first event: got %s, want %s", events[0].Type, EventConnectionEstablished)
	}
	if events[0].UserID != "u1" {
		t.Errorf("userId: got %s, want u1", events[0].UserID)
	}
}

func TestAddConnectionEvictsPrevious(t *testing.T) {
	m := newTestManager()
	first := &fakeTransport{}
	second := &fakeTransport{}

	m.AddConnection("u1", first, []string{"w1"})
	m.AddConnection("u1", second, []string{"w1"})

	if !first.isClosed() {
		t.Error("previous connection must be closed on replacement")
	}
	if m.ConnectionCount() != 1 {
		t.Errorf("connections: got %d, want 1", m.ConnectionCount())
	}

	m.Deliver("u1", "w1", NewSyncProgress("w1", 50, "syncing"))
	if len(first.sent()) != 1 {
		t.Error("evicted connection must not receive further events")
	}
	if len(second.sent()) != 2 {
		t.Errorf("replacement connection events: got %d, want 2", len(second.sent()))
	}
}

func TestAddConnectionFailingTransport(t *testing.T) {
	m := newTestManager()
	if ok := m.AddConnection("u1", &fakeTransport{fail: true}, nil); ok {
		t.Error("AddConnection must fail when the established event cannot be sent")
	}
	if m.ConnectionCount() != 0 {
		t.Error("failed connection must not be retained")
	}
}

func TestDeliverGatedOnWatchedWallet(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}
	m.AddConnection("u1", transport, []string{"w1", "w2"})

	m.Deliver("u1", "w1", NewSyncProgress("w1", 30, "syncing"))
	m.Deliver("u1", "w9", NewSyncProgress("w9", 30, "syncing"))

	events := transport.sent()
	// connection_established plus the one watched-wallet event.
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	if events[1].WalletID != "w1" {
		t.Errorf("delivered wallet: got %s, want w1", events[1].WalletID)
	}
}

func TestDeliverNoConnectionIsSilent(t *testing.T) {
	m := newTestManager()
	// Must not panic or error.
	m.Deliver("ghost", "w1", NewSyncProgress("w1", 10, "syncing"))
}

func TestRemoveClosesTransport(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}
	m.AddConnection("u1", transport, nil)

	m.Remove("u1")
	if !transport.isClosed() {
		t.Error("Remove must close the transport")
	}
	if m.ConnectionCount() != 0 {
		t.Error("connection count must drop to zero")
	}
}

func TestRemoveIfSparesReplacement(t *testing.T) {
	m := newTestManager()
	stale := &fakeTransport{}
	replacement := &fakeTransport{}

	m.AddConnection("u1", stale, []string{"w1"})
	m.AddConnection("u1", replacement, []string{"w1"})

	// A handler shutting down late must not tear down the connection the
	// same user opened in the meantime.
	m.RemoveIf("u1", stale)
	if m.ConnectionCount() != 1 {
		t.Fatal("stale removal must not touch the replacement connection")
	}
	if replacement.isClosed() {
		t.Error("replacement transport must stay open")
	}

	m.RemoveIf("u1", replacement)
	if m.ConnectionCount() != 0 {
		t.Error("matching removal must drop the connection")
	}
	if !replacement.isClosed() {
		t.Error("matching removal must close the transport")
	}
}

func TestSweepEvictsIdleConnections(t *testing.T) {
	m := newTestManager()
	idle := &fakeTransport{}
	live := &fakeTransport{}
	m.AddConnection("idle", idle, nil)
	m.AddConnection("live", live, nil)

	m.mu.Lock()
	m.conns["idle"].lastSeen = time.Now().UTC().Add(-2 * time.Minute)
	m.mu.Unlock()

	m.sweep()

	if !idle.isClosed() {
		t.Error("idle connection must be evicted")
	}
	if live.isClosed() {
		t.Error("live connection must survive the sweep")
	}
	if m.ConnectionCount() != 1 {
		t.Errorf("connections after sweep: got %d, want 1", m.ConnectionCount())
	}

	events := live.sent()
	if events[len(events)-1].Type != EventHeartbeat {
		t.Errorf("live connection should receive a heartbeat, got %s", events[len(events)-1].Type)
	}
}

func TestBroadcasterPublishesThroughBus(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}
	m.AddConnection("u1", transport, []string{"w1"})

	bus := &fakeBus{}
	b := NewBroadcaster(bus, m, zerolog.Nop())
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	b.PublishProgress("u1", "w1", 50, "syncing")
	b.PublishCompleted("u1", "w1", []string{"defi"})
	b.PublishFailed("u1", "w1", "upstream timeout")

	if len(bus.published) != 3 {
		t.Fatalf("bus publishes: got %d, want 3", len(bus.published))
	}

	events := transport.sent()
	if len(events) != 4 {
		t.Fatalf("delivered events: got %d, want 4", len(events))
	}
	if events[1].Type != EventSyncProgress || events[1].Progress != 50 {
		t.Errorf("progress event: %+v", events[1])
	}
	if events[2].Type != EventSyncCompleted || len(events[2].SyncedData) != 1 {
		t.Errorf("completed event: %+v", events[2])
	}
	if events[3].Type != EventSyncFailed || events[3].Error != "upstream timeout" {
		t.Errorf("failed event: %+v", events[3])
	}
}

func TestBroadcasterFallsBackWithoutBus(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}
	m.AddConnection("u1", transport, []string{"w1"})

	b := NewBroadcaster(nil, m, zerolog.Nop())
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	b.PublishProgress("u1", "w1", 75, "reconciling")

	events := transport.sent()
	if len(events) != 2 {
		t.Fatalf("delivered events: got %d, want 2", len(events))
	}
	if events[1].Progress != 75 {
		t.Errorf("progress: got %d, want 75", events[1].Progress)
	}
}

func TestBroadcasterDropsOnPublishError(t *testing.T) {
	m := newTestManager()
	transport := &fakeTransport{}
	m.AddConnection("u1", transport, []string{"w1"})

	bus := &fakeBus{failNext: true}
	b := NewBroadcaster(bus, m, zerolog.Nop())
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Publish failure is absorbed; nothing is delivered locally because
	// the bus is the only configured path.
	b.PublishProgress("u1", "w1", 10, "syncing")
	if len(transport.sent()) != 1 {
		t.Errorf("events after failed publish: got %d, want 1", len(transport.sent()))
	}
}
