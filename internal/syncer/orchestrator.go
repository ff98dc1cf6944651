package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"defitrack/internal/aggregator"
	"defitrack/internal/observability"
	"defitrack/internal/position"
	"defitrack/internal/queue"
	"defitrack/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SyncWalletJob is the payload of every wallet-sync job variant.
type SyncWalletJob struct {
	UserID    string   `json:"userId"`
	WalletID  string   `json:"walletId"`
	Address   string   `json:"address"`
	FullSync  bool     `json:"fullSync,omitempty"`
	SyncTypes []string `json:"syncTypes,omitempty"`
}

// Fetcher is the aggregator boundary, satisfied by aggregator.Client.
type Fetcher interface {
	FetchAppBalances(ctx context.Context, address string) ([]byte, error)
}

// StatusTracker records job state transitions for the batch status
// endpoint. Optional; a nil tracker disables persistence of job state.
type StatusTracker interface {
	MarkActive(ctx context.Context, jobID string, walletID uuid.UUID, userID, jobType string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	PruneFinished(ctx context.Context, keepCompleted, keepFailed int) (int64, error)
}

// Finished job rows kept around for the status endpoint; anything older
// is pruned during maintenance.
const (
	keepCompletedJobs = 100
	keepFailedJobs    = 50
)

// Orchestrator runs one wallet sync end to end: fetch, parse, map,
// upsert, reconcile, with progress events published at each stage.
type Orchestrator struct {
	fetcher     Fetcher
	parser      *aggregator.Parser
	mapper      *position.Mapper
	store       position.Store
	reconciler  *position.Reconciler
	broadcaster *stream.Broadcaster
	tracker     StatusTracker
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

func NewOrchestrator(
	fetcher Fetcher,
	parser *aggregator.Parser,
	mapper *position.Mapper,
	store position.Store,
	reconciler *position.Reconciler,
	broadcaster *stream.Broadcaster,
	tracker StatusTracker,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		parser:      parser,
		mapper:      mapper,
		store:       store,
		reconciler:  reconciler,
		broadcaster: broadcaster,
		tracker:     tracker,
		logger:      logger,
		metrics:     metrics,
	}
}

// RegisterWalletHandlers binds the sync job types to a wallet-sync worker.
func (o *Orchestrator) RegisterWalletHandlers(w *queue.Worker) {
	w.Register(queue.JobSyncWallet, o.HandleSyncWallet)
	w.Register(queue.JobFullSync, o.HandleSyncWallet)
	w.Register(queue.JobSyncDeFi, o.HandleSyncWallet)
}

// RegisterMaintenanceHandlers binds cleanup jobs to a maintenance worker.
func (o *Orchestrator) RegisterMaintenanceHandlers(w *queue.Worker) {
	w.Register(queue.JobCleanupStale, o.HandleCleanup)
}

// HandleSyncWallet is the queue handler for all wallet-sync job types.
func (o *Orchestrator) HandleSyncWallet(ctx context.Context, job *queue.Job) error {
	var payload SyncWalletJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// Undecodable payloads never become decodable; fail terminally by
		// reporting success to the broker and logging loudly.
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("undecodable sync payload dropped")
		return nil
	}

	walletID, err := uuid.Parse(payload.WalletID)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("wallet_id", payload.WalletID).
			Msg("invalid wallet id in sync payload")
		return nil
	}

	if o.tracker != nil {
		if err := o.tracker.MarkActive(ctx, job.ID, walletID, payload.UserID, job.Type); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job status update failed")
		}
	}

	syncErr := o.syncWallet(ctx, walletID, payload)

	if o.tracker != nil {
		var trackErr error
		if syncErr != nil {
			trackErr = o.tracker.MarkFailed(ctx, job.ID, syncErr.Error())
		} else {
			trackErr = o.tracker.MarkCompleted(ctx, job.ID)
		}
		if trackErr != nil {
			o.logger.Warn().Err(trackErr).Str("job_id", job.ID).Msg("job status update failed")
		}
	}
	return syncErr
}

// syncWallet runs the pipeline. Each stage failure carries a stage tag so
// the failure metric distinguishes upstream problems from our own.
func (o *Orchestrator) syncWallet(ctx context.Context, walletID uuid.UUID, payload SyncWalletJob) error {
	start := time.Now()
	log := o.logger.With().Str("wallet_id", walletID.String()).Str("user_id", payload.UserID).Logger()
	log.Info().Bool("full_sync", payload.FullSync).Msg("wallet sync started")

	o.broadcaster.PublishProgress(payload.UserID, payload.WalletID, 5, "fetching")
	upstreamStart := time.Now()
	raw, err := o.fetcher.FetchAppBalances(ctx, payload.Address)
	if err != nil {
		return o.fail(payload, "fetch", err)
	}
	if o.metrics != nil {
		o.metrics.SyncUpstreamDuration.Observe(time.Since(upstreamStart).Seconds())
	}

	o.broadcaster.PublishProgress(payload.UserID, payload.WalletID, 30, "parsing")
	balances, err := o.parser.Parse(raw)
	if err != nil {
		return o.fail(payload, "parse", err)
	}

	o.broadcaster.PublishProgress(payload.UserID, payload.WalletID, 50, "mapping")
	now := time.Now().UTC()
	if err := o.upsertApps(ctx, walletID, balances.Apps, now, payload); err != nil {
		return o.fail(payload, "persist", err)
	}

	o.broadcaster.PublishProgress(payload.UserID, payload.WalletID, 90, "reconciling")
	result, err := o.reconciler.Reconcile(ctx, walletID, o.mapper.Source(), now)
	if err != nil {
		return o.fail(payload, "reconcile", err)
	}

	summary := position.ComputeSummary(balances.Apps)
	log.Info().
		Int("apps", len(balances.Apps)).
		Int64("marked_stale", result.MarkedStale).
		Int64("purged", result.Purged).
		Float64("net_worth", summary.NetWorth).
		Dur("duration", time.Since(start)).
		Msg("wallet sync completed")

	if o.metrics != nil {
		o.metrics.SyncWalletsCompleted.Inc()
		o.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}
	o.broadcaster.PublishCompleted(payload.UserID, payload.WalletID, syncedData(payload))
	return nil
}

// upsertApps maps and persists each app. Apps are independent, so they
// are written concurrently with a small bound; any failure aborts the
// sync and surfaces through the job retry policy.
func (o *Orchestrator) upsertApps(ctx context.Context, walletID uuid.UUID, apps []*aggregator.ParsedApp, now time.Time, payload SyncWalletJob) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	total := len(apps)
	for i, app := range apps {
		i, app := i, app
		g.Go(func() error {
			appRec, records := o.mapper.MapApp(walletID, app, now)
			if err := o.store.UpsertApp(ctx, appRec); err != nil {
				return err
			}
			if err := o.store.UpsertPositions(ctx, records); err != nil {
				return err
			}
			// Walk progress from 50 to 90 as apps land.
			if total > 0 {
				progress := 50 + (40*(i+1))/total
				o.broadcaster.PublishProgress(payload.UserID, payload.WalletID, progress, "syncing")
			}
			return nil
		})
	}
	return g.Wait()
}

// HandleCleanup is the maintenance handler that garbage-collects inactive
// positions across all wallets and trims finished job status rows.
func (o *Orchestrator) HandleCleanup(ctx context.Context, job *queue.Job) error {
	purged, err := o.reconciler.Sweep(ctx, o.mapper.Source(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cleanup sweep: %w", err)
	}

	var prunedJobs int64
	if o.tracker != nil {
		prunedJobs, err = o.tracker.PruneFinished(ctx, keepCompletedJobs, keepFailedJobs)
		if err != nil {
			return fmt.Errorf("cleanup prune jobs: %w", err)
		}
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Int64("purged", purged).
		Int64("pruned_jobs", prunedJobs).
		Msg("cleanup job finished")
	return nil
}

func (o *Orchestrator) fail(payload SyncWalletJob, stage string, err error) error {
	var parseErr *aggregator.ParseError
	var mapErr *position.MappingError
	switch {
	case errors.As(err, &parseErr):
		stage = "parse"
	case errors.As(err, &mapErr):
		stage = "persist"
	}

	o.logger.Error().Err(err).
		Str("wallet_id", payload.WalletID).
		Str("stage", stage).
		Msg("wallet sync failed")
	if o.metrics != nil {
		o.metrics.SyncWalletsFailed.WithLabelValues(stage).Inc()
	}
	o.broadcaster.PublishFailed(payload.UserID, payload.WalletID, err.Error())
	return fmt.Errorf("sync wallet %s at %s: %w", payload.WalletID, stage, err)
}

// syncedData names the data families covered by this job, echoed back to
// the client in the completion event.
func syncedData(payload SyncWalletJob) []string {
	if len(payload.SyncTypes) > 0 {
		return payload.SyncTypes
	}
	if payload.FullSync {
		return []string{"defi", "tokens", "nft"}
	}
	return []string{"defi"}
}
