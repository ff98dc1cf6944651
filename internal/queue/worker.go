package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"defitrack/internal/observability"
)

// Handler processes one job. Returning an error triggers redelivery with
// backoff until the delivery cap, after which the job is terminated.
type Handler func(ctx context.Context, job *Job) error

// Worker drains one queue. It holds a durable pull consumer per priority
// band and always fetches higher bands first, only descending when a band
// is empty.
type Worker struct {
	manager  *Manager
	queue    string
	handlers map[string]Handler
	logger   zerolog.Logger
	metrics  *observability.Metrics

	paused    atomic.Bool
	consumers map[Priority]jetstream.Consumer

	// drain is drainOnce in production; tests swap it to drive the loop
	// without a broker.
	drain func(ctx context.Context) error
}

const (
	fetchBatch = 10
	fetchWait  = 2 * time.Second
	pausePoll  = 500 * time.Millisecond
)

func NewWorker(manager *Manager, queue string, logger zerolog.Logger, metrics *observability.Metrics) *Worker {
	w := &Worker{
		manager:   manager,
		queue:     queue,
		handlers:  make(map[string]Handler),
		logger:    logger.With().Str("queue", queue).Logger(),
		metrics:   metrics,
		consumers: make(map[Priority]jetstream.Consumer),
	}
	w.drain = w.drainOnce
	return w
}

// Register binds a handler to a job type. Jobs without a handler are
// terminated on first delivery, not retried.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Pause stops job pickup without dropping consumers; in-flight jobs finish.
func (w *Worker) Pause()  { w.paused.Store(true) }
func (w *Worker) Resume() { w.paused.Store(false) }

// Run creates the per-band consumers and processes jobs until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if w.manager.js == nil {
		w.logger.Warn().Msg("no broker connection, worker idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for _, priority := range priorityOrder {
		consumer, err := w.manager.js.CreateOrUpdateConsumer(ctx, streamName(w.queue), jetstream.ConsumerConfig{
			Durable:       fmt.Sprintf("%s-%s", w.queue, priority),
			FilterSubject: fmt.Sprintf("defitrack.jobs.%s.%s.>", w.queue, priority),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       ackWait,
			MaxDeliver:    maxDeliveries,
			BackOff:       retryBackoff,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s-%s: %w", w.queue, priority, err)
		}
		w.consumers[priority] = consumer
	}

	w.logger.Info().Msg("worker started")
	return w.runLoop(ctx)
}

// runLoop alternates between draining and honoring pause until ctx ends.
func (w *Worker) runLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.paused.Load() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pausePoll):
			}
			continue
		}
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("fetch failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchWait):
			}
		}
	}
}

// drainOnce fetches from the highest non-empty band and processes the
// batch. Lower bands are only reached when every band above came back
// empty, which keeps priority strict across one pass.
func (w *Worker) drainOnce(ctx context.Context) error {
	for _, priority := range priorityOrder {
		batch, err := w.consumers[priority].Fetch(fetchBatch, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			return err
		}
		processed := 0
		for msg := range batch.Messages() {
			w.process(ctx, msg)
			processed++
		}
		if err := batch.Error(); err != nil {
			return err
		}
		if processed > 0 {
			return nil
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, msg jetstream.Msg) {
	var job Job
	if err := jsonq.Unmarshal(msg.Data(), &job); err != nil {
		w.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("undecodable job, terminating")
		_ = msg.Term()
		return
	}
	if meta, err := msg.Metadata(); err == nil {
		job.Attempt = int(meta.NumDelivered)
	}

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Error().Str("job_type", job.Type).Str("job_id", job.ID).Msg("no handler registered, terminating")
		_ = msg.Term()
		return
	}

	start := time.Now()
	err := handler(ctx, &job)
	duration := time.Since(start)

	if err == nil {
		_ = msg.Ack()
		w.manager.recordCompletion(w.queue, duration)
		if w.metrics != nil {
			w.metrics.QueueJobsCompleted.WithLabelValues(w.queue).Inc()
			w.metrics.QueueJobDuration.WithLabelValues(w.queue).Observe(duration.Seconds())
		}
		return
	}

	if job.Attempt >= maxDeliveries {
		w.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("job_type", job.Type).
			Int("attempt", job.Attempt).
			Msg("job failed terminally")
		_ = msg.Term()
		w.manager.recordFailure(w.queue)
		if w.metrics != nil {
			w.metrics.QueueJobsFailed.WithLabelValues(w.queue).Inc()
		}
		return
	}

	w.logger.Warn().Err(err).
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("attempt", job.Attempt).
		Msg("job failed, will retry")
	_ = msg.Nak()
	if w.metrics != nil {
		w.metrics.QueueJobsRetried.WithLabelValues(w.queue).Inc()
	}
}
