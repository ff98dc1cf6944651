package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"defitrack/internal/observability"
)

var jsonq = jsoniter.ConfigCompatibleWithStandardLibrary

// Job is the unit of work carried through JetStream.
type Job struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Queue      string              `json:"queue"`
	Priority   string              `json:"priority"`
	Payload    jsoniter.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`

	// Attempt is 1 on first delivery, filled in by the worker from
	// JetStream delivery metadata.
	Attempt int `json:"-"`
}

// JobHandle identifies an enqueued job. A nil handle means the job was
// accepted in degraded mode and never reached the broker.
type JobHandle struct {
	ID       string
	Queue    string
	Priority Priority
}

const (
	maxDeliveries = 4 // first attempt + 3 retries
	ackWait       = 30 * time.Second
)

// retryBackoff spaces out redeliveries: 2s, 4s, 8s.
var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Manager owns the JetStream streams backing the job queues and is the
// only enqueue path. When the broker is unreachable it degrades instead
// of failing: AddJob returns a nil handle and the caller carries on.
type Manager struct {
	js      jetstream.JetStream
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	stats map[string]*queueStats
}

// queueStats accumulates per-queue counters for health evaluation.
type queueStats struct {
	enqueued        int64
	completed       int64
	failed          int64
	totalDuration   time.Duration
	lastEnqueuedAt  time.Time
	lastCompletedAt time.Time
}

func NewManager(js jetstream.JetStream, logger zerolog.Logger, metrics *observability.Metrics) *Manager {
	stats := make(map[string]*queueStats, len(QueueNames))
	for _, name := range QueueNames {
		stats[name] = &queueStats{}
	}
	return &Manager{
		js:      js,
		logger:  logger,
		metrics: metrics,
		stats:   stats,
	}
}

// streamName maps a queue to its JetStream stream, e.g. wallet-sync ->
// DEFITRACK_WALLET_SYNC.
func streamName(queue string) string {
	return "DEFITRACK_" + strings.ToUpper(strings.ReplaceAll(queue, "-", "_"))
}

// subjectFor builds the per-band subject a job is published to.
func subjectFor(queue string, priority Priority, jobType string) string {
	return fmt.Sprintf("defitrack.jobs.%s.%s.%s", queue, priority, jobType)
}

// EnsureStreams creates one stream per queue if missing. Jobs are removed
// on ack (WorkQueuePolicy), so stream depth is the live backlog.
func (m *Manager) EnsureStreams(ctx context.Context) error {
	if m.js == nil {
		m.logger.Warn().Msg("no broker connection, job queues run degraded")
		return nil
	}
	for _, queue := range QueueNames {
		cfg := jetstream.StreamConfig{
			Name:      streamName(queue),
			Subjects:  []string{fmt.Sprintf("defitrack.jobs.%s.>", queue)},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Replicas:  1,
		}
		if _, err := m.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		m.logger.Info().Str("stream", cfg.Name).Msg("ensured job stream")
	}
	return nil
}

// AddJobOpt adjusts how a single job is enqueued.
type AddJobOpt func(*addJobOpts)

type addJobOpts struct {
	priority *Priority
}

// WithPriority pins the job to an explicit priority band instead of the
// routed default.
func WithPriority(p Priority) AddJobOpt {
	return func(o *addJobOpts) { o.priority = &p }
}

// resolveRoute applies the routing table, then any caller overrides.
func resolveRoute(jobType string, opts ...AddJobOpt) (queue string, priority Priority) {
	queue, priority = RouteFor(jobType)
	var o addJobOpts
	for _, opt := range opts {
		opt(&o)
	}
	if o.priority != nil {
		priority = *o.priority
	}
	return queue, priority
}

// AddJob routes the job type to its queue and priority band and publishes
// it. Broker failures are absorbed: the error is logged and counted, and
// the caller gets a nil handle instead of an error.
func (m *Manager) AddJob(ctx context.Context, jobType string, payload interface{}, opts ...AddJobOpt) (*JobHandle, error) {
	queue, priority := resolveRoute(jobType, opts...)

	var raw jsoniter.RawMessage
	if payload != nil {
		data, err := jsonq.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", jobType, err)
		}
		raw = data
	}

	job := Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Queue:      queue,
		Priority:   priority.String(),
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}

	if m.js == nil {
		m.degrade(jobType, queue, nil)
		return nil, nil
	}

	data, err := jsonq.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job %s: %w", jobType, err)
	}

	if _, err := m.js.Publish(ctx, subjectFor(queue, priority, jobType), data); err != nil {
		m.degrade(jobType, queue, err)
		return nil, nil
	}

	m.mu.Lock()
	st := m.stats[queue]
	st.enqueued++
	st.lastEnqueuedAt = job.EnqueuedAt
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.QueueJobsEnqueued.WithLabelValues(queue, priority.String()).Inc()
	}
	return &JobHandle{ID: job.ID, Queue: queue, Priority: priority}, nil
}

func (m *Manager) degrade(jobType, queue string, err error) {
	evt := m.logger.Warn().Str("job_type", jobType).Str("queue", queue)
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("broker unavailable, job dropped in degraded mode")
	if m.metrics != nil {
		m.metrics.QueueEnqueueDegraded.WithLabelValues(queue).Inc()
	}
}

// recordCompletion and recordFailure feed the health counters from workers.
func (m *Manager) recordCompletion(queue string, duration time.Duration) {
	m.mu.Lock()
	st := m.stats[queue]
	st.completed++
	st.totalDuration += duration
	st.lastCompletedAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Manager) recordFailure(queue string) {
	m.mu.Lock()
	m.stats[queue].failed++
	m.mu.Unlock()
}

// Stats snapshots one queue's counters, backfilling the live backlog from
// the stream when the broker is reachable.
func (m *Manager) Stats(ctx context.Context, queue string) QueueStats {
	m.mu.Lock()
	st, ok := m.stats[queue]
	if !ok {
		m.mu.Unlock()
		return QueueStats{Queue: queue}
	}
	snap := QueueStats{
		Queue:           queue,
		Enqueued:        st.enqueued,
		Completed:       st.completed,
		Failed:          st.failed,
		LastEnqueuedAt:  st.lastEnqueuedAt,
		LastCompletedAt: st.lastCompletedAt,
	}
	if st.completed > 0 {
		snap.AvgDuration = st.totalDuration / time.Duration(st.completed)
	}
	m.mu.Unlock()

	if m.js != nil {
		if stream, err := m.js.Stream(ctx, streamName(queue)); err == nil {
			if info, err := stream.Info(ctx); err == nil {
				snap.Backlog = int64(info.State.Msgs)
			}
		}
	}
	if m.metrics != nil {
		m.metrics.QueueBacklog.WithLabelValues(queue).Set(float64(snap.Backlog))
	}
	return snap
}

// AllStats snapshots every queue.
func (m *Manager) AllStats(ctx context.Context) []QueueStats {
	out := make([]QueueStats, 0, len(QueueNames))
	for _, queue := range QueueNames {
		out = append(out, m.Stats(ctx, queue))
	}
	return out
}
