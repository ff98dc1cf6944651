package position

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"defitrack/internal/observability"
)

// Store is the persistence boundary for positions and apps. All writes are
// idempotent upserts keyed by natural identity, so retried or concurrent
// syncs for the same wallet converge without locking.
type Store interface {
	UpsertApp(ctx context.Context, app *AppRecord) error
	UpsertPositions(ctx context.Context, records []*Record) error

	// MarkStale flips positions of this wallet/source not re-observed since
	// cutoff to inactive. Returns the number of rows affected.
	MarkStale(ctx context.Context, walletID uuid.UUID, source string, cutoff time.Time) (int64, error)

	// PurgeInactive hard-deletes this wallet/source's positions that have
	// been inactive since before cutoff.
	PurgeInactive(ctx context.Context, walletID uuid.UUID, source string, cutoff time.Time) (int64, error)

	// PurgeAllInactive is the maintenance sweep across all wallets.
	PurgeAllInactive(ctx context.Context, source string, cutoff time.Time) (int64, error)

	ListActive(ctx context.Context, walletID uuid.UUID) ([]*Record, error)
}

// SQLStore implements Store on Postgres using multi-row INSERT ... ON
// CONFLICT upserts.
type SQLStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewSQLStore(db *sql.DB, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, metrics: metrics}
}

func (s *SQLStore) UpsertApp(ctx context.Context, app *AppRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defi_apps
			(slug, network, display_name, category, protocol_type, risk_score, is_verified, balance_usd, last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (slug, network) DO UPDATE SET
			display_name  = EXCLUDED.display_name,
			category      = EXCLUDED.category,
			protocol_type = EXCLUDED.protocol_type,
			risk_score    = EXCLUDED.risk_score,
			is_verified   = EXCLUDED.is_verified,
			balance_usd   = EXCLUDED.balance_usd,
			last_sync_at  = EXCLUDED.last_sync_at,
			updated_at    = NOW()
	`, app.Slug, app.Network, app.DisplayName, app.Category, string(app.ProtocolType),
		app.RiskScore, app.IsVerified, app.BalanceUSD, app.LastSyncAt)
	if err != nil {
		s.countError("upsert_app")
		return fmt.Errorf("upsert app %s/%s: %w", app.Slug, app.Network, err)
	}
	if s.metrics != nil {
		s.metrics.AppsUpserted.Inc()
	}
	return nil
}

func (s *SQLStore) UpsertPositions(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 18
	query := `INSERT INTO defi_positions
		(wallet_id, contract_address, network, sync_source, external_position_id,
		 protocol_slug, protocol_name, protocol_type, position_type, meta_type,
		 pool_name, symbol, balance, balance_usd, price, is_active, last_sync_at, raw_data)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*cols)

	for i, r := range records {
		base := i * cols
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.WalletID, r.ContractAddress, r.Network, r.SyncSource, r.ExternalID,
			r.ProtocolSlug, r.ProtocolName, string(r.ProtocolType), r.PositionType, r.MetaType,
			r.PoolName, r.Symbol, r.Balance, r.BalanceUSD, r.Price, r.IsActive, r.LastSyncAt, r.RawData,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (wallet_id, contract_address, network, sync_source) DO UPDATE SET
		external_position_id = EXCLUDED.external_position_id,
		protocol_slug = EXCLUDED.protocol_slug,
		protocol_name = EXCLUDED.protocol_name,
		protocol_type = EXCLUDED.protocol_type,
		position_type = EXCLUDED.position_type,
		meta_type     = EXCLUDED.meta_type,
		pool_name     = EXCLUDED.pool_name,
		symbol        = EXCLUDED.symbol,
		balance       = EXCLUDED.balance,
		balance_usd   = EXCLUDED.balance_usd,
		price         = EXCLUDED.price,
		is_active     = TRUE,
		last_sync_at  = EXCLUDED.last_sync_at,
		raw_data      = EXCLUDED.raw_data,
		updated_at    = NOW()`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.countError("upsert_positions")
		return fmt.Errorf("upsert %d positions: %w", len(records), err)
	}
	if s.metrics != nil {
		s.metrics.PositionsUpserted.Add(float64(len(records)))
	}
	return nil
}

func (s *SQLStore) MarkStale(ctx context.Context, walletID uuid.UUID, source string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE defi_positions
		SET is_active = FALSE, updated_at = NOW()
		WHERE wallet_id = $1 AND sync_source = $2 AND is_active AND last_sync_at < $3
	`, walletID, source, cutoff)
	if err != nil {
		s.countError("mark_stale")
		return 0, fmt.Errorf("mark stale for wallet %s: %w", walletID, err)
	}
	n, _ := res.RowsAffected()
	if s.metrics != nil {
		s.metrics.PositionsMarkedStale.Add(float64(n))
	}
	return n, nil
}

func (s *SQLStore) PurgeInactive(ctx context.Context, walletID uuid.UUID, source string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM defi_positions
		WHERE wallet_id = $1 AND sync_source = $2 AND NOT is_active AND last_sync_at < $3
	`, walletID, source, cutoff)
	if err != nil {
		s.countError("purge")
		return 0, fmt.Errorf("purge inactive for wallet %s: %w", walletID, err)
	}
	n, _ := res.RowsAffected()
	if s.metrics != nil {
		s.metrics.PositionsPurged.Add(float64(n))
	}
	return n, nil
}

func (s *SQLStore) PurgeAllInactive(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM defi_positions
		WHERE sync_source = $1 AND NOT is_active AND last_sync_at < $2
	`, source, cutoff)
	if err != nil {
		s.countError("purge_all")
		return 0, fmt.Errorf("purge all inactive: %w", err)
	}
	n, _ := res.RowsAffected()
	if s.metrics != nil {
		s.metrics.PositionsPurged.Add(float64(n))
	}
	return n, nil
}

func (s *SQLStore) ListActive(ctx context.Context, walletID uuid.UUID) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_address, network, sync_source, external_position_id,
		       protocol_slug, protocol_name, protocol_type, position_type, meta_type,
		       pool_name, symbol, balance, balance_usd, price, is_active, last_sync_at
		FROM defi_positions
		WHERE wallet_id = $1 AND is_active
		ORDER BY balance_usd DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list active for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{WalletID: walletID}
		var ptype string
		if err := rows.Scan(
			&r.ContractAddress, &r.Network, &r.SyncSource, &r.ExternalID,
			&r.ProtocolSlug, &r.ProtocolName, &ptype, &r.PositionType, &r.MetaType,
			&r.PoolName, &r.Symbol, &r.Balance, &r.BalanceUSD, &r.Price, &r.IsActive, &r.LastSyncAt,
		); err != nil {
			return nil, err
		}
		r.ProtocolType = ProtocolType(ptype)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) countError(op string) {
	if s.metrics != nil {
		s.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
