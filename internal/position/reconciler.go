package position

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler retires positions that stopped appearing in sync results.
// Two tiers: unseen for staleAfter -> inactive (tolerates one missed sync
// without data loss), inactive for purgeAfter -> deleted. Both passes are
// idempotent, so a partially applied sync self-corrects on the next run.
type Reconciler struct {
	store      Store
	staleAfter time.Duration
	purgeAfter time.Duration
	logger     zerolog.Logger
}

// ReconcileResult reports what one reconciliation pass changed.
type ReconcileResult struct {
	MarkedStale int64
	Purged      int64
}

func NewReconciler(store Store, staleAfter, purgeAfter time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		staleAfter: staleAfter,
		purgeAfter: purgeAfter,
		logger:     logger,
	}
}

// Reconcile runs both staleness passes for one wallet/source. Called once
// per wallet sync, after all apps are mapped and upserted.
func (r *Reconciler) Reconcile(ctx context.Context, walletID uuid.UUID, source string, now time.Time) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	stale, err := r.store.MarkStale(ctx, walletID, source, now.Add(-r.staleAfter))
	if err != nil {
		return nil, &MappingError{WalletID: walletID, Op: "mark_stale", Err: err}
	}
	result.MarkedStale = stale

	purged, err := r.store.PurgeInactive(ctx, walletID, source, now.Add(-r.purgeAfter))
	if err != nil {
		return nil, &MappingError{WalletID: walletID, Op: "purge_inactive", Err: err}
	}
	result.Purged = purged

	if stale > 0 || purged > 0 {
		r.logger.Info().
			Str("wallet_id", walletID.String()).
			Int64("marked_stale", stale).
			Int64("purged", purged).
			Msg("reconciled positions")
	}
	return result, nil
}

// Sweep runs the retention pass across all wallets. Driven by the
// maintenance queue rather than individual wallet syncs, so positions of
// wallets nobody syncs anymore still get garbage-collected.
func (r *Reconciler) Sweep(ctx context.Context, source string, now time.Time) (int64, error) {
	purged, err := r.store.PurgeAllInactive(ctx, source, now.Add(-r.purgeAfter))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		r.logger.Info().Int64("purged", purged).Msg("maintenance sweep purged inactive positions")
	}
	return purged, nil
}
