package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWorkerPauseAndResume(t *testing.T) {
	m := NewManager(nil, zerolog.Nop(), nil)
	w := NewWorker(m, QueueWalletSync, zerolog.Nop(), nil)

	var drains atomic.Int64
	w.drain = func(ctx context.Context) error {
		drains.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.runLoop(ctx) }()

	waitFor := func(cond func() bool, msg string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal(msg)
	}

	waitFor(func() bool { return drains.Load() > 0 }, "worker never drained while running")

	w.Pause()
	time.Sleep(50 * time.Millisecond) // let the in-flight pass finish
	before := drains.Load()
	time.Sleep(2 * pausePoll)
	if got := drains.Load(); got != before {
		t.Errorf("drained %d times while paused", got-before)
	}

	w.Resume()
	waitFor(func() bool { return drains.Load() > before }, "worker never resumed draining")

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("runLoop: got %v, want context.Canceled", err)
	}
}
