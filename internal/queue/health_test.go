package queue

import (
	"testing"
	"time"
)

func healthyStats() QueueStats {
	now := time.Now().UTC()
	return QueueStats{
		Queue:           QueueWalletSync,
		Enqueued:        100,
		Completed:       95,
		Failed:          5,
		Backlog:         10,
		AvgDuration:     2 * time.Second,
		LastEnqueuedAt:  now.Add(-time.Minute),
		LastCompletedAt: now.Add(-30 * time.Second),
	}
}

func TestEvaluateHealth_Healthy(t *testing.T) {
	h := EvaluateHealth(healthyStats(), time.Now().UTC())
	if !h.Healthy {
		t.Errorf("expected healthy, issues: %v", h.Issues)
	}
	if len(h.Issues) != 0 {
		t.Errorf("unexpected issues: %v", h.Issues)
	}
}

func TestEvaluateHealth_FailureRate(t *testing.T) {
	stats := healthyStats()
	stats.Completed = 80
	stats.Failed = 20

	h := EvaluateHealth(stats, time.Now().UTC())
	if h.Healthy {
		t.Error("20% failure rate must be unhealthy")
	}
	if h.FailureRate != 0.2 {
		t.Errorf("failure rate: got %v, want 0.2", h.FailureRate)
	}
}

func TestEvaluateHealth_FailureRateBoundary(t *testing.T) {
	stats := healthyStats()
	stats.Completed = 90
	stats.Failed = 10

	// Exactly 10% is still within threshold.
	if h := EvaluateHealth(stats, time.Now().UTC()); !h.Healthy {
		t.Errorf("10%% failure rate should be healthy, issues: %v", h.Issues)
	}
}

func TestEvaluateHealth_Backlog(t *testing.T) {
	stats := healthyStats()
	stats.Backlog = 1001

	if h := EvaluateHealth(stats, time.Now().UTC()); h.Healthy {
		t.Error("backlog over 1000 must be unhealthy")
	}

	stats.Backlog = 1000
	if h := EvaluateHealth(stats, time.Now().UTC()); !h.Healthy {
		t.Errorf("backlog of exactly 1000 should be healthy, issues: %v", h.Issues)
	}
}

func TestEvaluateHealth_SlowJobs(t *testing.T) {
	stats := healthyStats()
	stats.AvgDuration = 61 * time.Second

	h := EvaluateHealth(stats, time.Now().UTC())
	if h.Healthy {
		t.Error("average duration over 60s must be unhealthy")
	}
	if h.AvgDurationSec != 61 {
		t.Errorf("avg duration seconds: got %v, want 61", h.AvgDurationSec)
	}
}

func TestEvaluateHealth_Stall(t *testing.T) {
	now := time.Now().UTC()
	stats := healthyStats()
	stats.LastEnqueuedAt = now.Add(-time.Minute)
	stats.LastCompletedAt = now.Add(-10 * time.Minute)
	stats.Backlog = 50

	if h := EvaluateHealth(stats, now); h.Healthy {
		t.Error("recent enqueues with no completion in 5 minutes must be unhealthy")
	}

	// An idle queue with nothing recently enqueued is not stalled.
	stats.LastEnqueuedAt = now.Add(-time.Hour)
	if h := EvaluateHealth(stats, now); !h.Healthy {
		t.Errorf("idle queue should be healthy, issues: %v", h.Issues)
	}
}

func TestEvaluateHealth_EmptyQueue(t *testing.T) {
	h := EvaluateHealth(QueueStats{Queue: QueueAnalytics}, time.Now().UTC())
	if !h.Healthy {
		t.Errorf("queue that never ran should be healthy, issues: %v", h.Issues)
	}
	if h.FailureRate != 0 {
		t.Errorf("failure rate with no jobs: got %v, want 0", h.FailureRate)
	}
}
