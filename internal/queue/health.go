package queue

import (
	"context"
	"time"
)

// QueueStats is a point-in-time snapshot of one queue's activity.
type QueueStats struct {
	Queue           string        `json:"queue"`
	Enqueued        int64         `json:"enqueued"`
	Completed       int64         `json:"completed"`
	Failed          int64         `json:"failed"`
	Backlog         int64         `json:"backlog"`
	AvgDuration     time.Duration `json:"-"`
	LastEnqueuedAt  time.Time     `json:"lastEnqueuedAt,omitempty"`
	LastCompletedAt time.Time     `json:"lastCompletedAt,omitempty"`
}

// QueueHealth is the verdict for one queue plus the reasons it is not
// healthy, if any.
type QueueHealth struct {
	Queue          string   `json:"queue"`
	Healthy        bool     `json:"healthy"`
	Issues         []string `json:"issues,omitempty"`
	Backlog        int64    `json:"backlog"`
	FailureRate    float64  `json:"failureRate"`
	AvgDurationSec float64  `json:"avgDurationSec"`
}

// Health thresholds. A queue is unhealthy when any of these trips.
const (
	maxFailureRate  = 0.10
	maxBacklog      = 1000
	maxAvgDuration  = 60 * time.Second
	completionStall = 5 * time.Minute
)

// EvaluateHealth applies the thresholds to one stats snapshot. Pure so it
// can be tested without a broker.
func EvaluateHealth(stats QueueStats, now time.Time) QueueHealth {
	h := QueueHealth{
		Queue:          stats.Queue,
		Healthy:        true,
		Backlog:        stats.Backlog,
		AvgDurationSec: stats.AvgDuration.Seconds(),
	}

	finished := stats.Completed + stats.Failed
	if finished > 0 {
		h.FailureRate = float64(stats.Failed) / float64(finished)
	}

	if h.FailureRate > maxFailureRate {
		h.Healthy = false
		h.Issues = append(h.Issues, "failure rate above 10%")
	}
	if stats.Backlog > maxBacklog {
		h.Healthy = false
		h.Issues = append(h.Issues, "backlog above 1000 jobs")
	}
	if stats.AvgDuration > maxAvgDuration {
		h.Healthy = false
		h.Issues = append(h.Issues, "average job duration above 60s")
	}

	// Stall: work has been flowing in but nothing finished for a while.
	stalled := !stats.LastEnqueuedAt.IsZero() &&
		now.Sub(stats.LastEnqueuedAt) < completionStall &&
		(stats.LastCompletedAt.IsZero() || now.Sub(stats.LastCompletedAt) > completionStall)
	if stalled && stats.Backlog > 0 {
		h.Healthy = false
		h.Issues = append(h.Issues, "no job completed in the last 5 minutes")
	}

	return h
}

// QueueHealthReport evaluates every queue against live stats.
func (m *Manager) QueueHealthReport(ctx context.Context) []QueueHealth {
	now := time.Now().UTC()
	out := make([]QueueHealth, 0, len(QueueNames))
	for _, stats := range m.AllStats(ctx) {
		out = append(out, EvaluateHealth(stats, now))
	}
	return out
}
