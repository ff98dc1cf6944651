package position_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"defitrack/internal/persistence"
	"defitrack/internal/position"
	"defitrack/internal/testutil"
)

func TestSQLStoreRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	store := position.NewSQLStore(db, nil)
	walletID := uuid.New()
	now := time.Now().UTC()

	app := &position.AppRecord{
		Slug:         "aave-v3",
		Network:      "ethereum",
		DisplayName:  "Aave V3",
		Category:     "Lending",
		ProtocolType: position.ProtocolLending,
		RiskScore:    15,
		IsVerified:   true,
		BalanceUSD:   1000,
		LastSyncAt:   now,
	}
	if err := store.UpsertApp(ctx, app); err != nil {
		t.Fatalf("upsert app: %v", err)
	}
	// Second upsert must update in place, not duplicate.
	app.BalanceUSD = 1100
	if err := store.UpsertApp(ctx, app); err != nil {
		t.Fatalf("re-upsert app: %v", err)
	}

	records := []*position.Record{
		{
			WalletID:        walletID,
			ContractAddress: "0xpool",
			Network:         "ethereum",
			SyncSource:      "zapper",
			ExternalID:      "aave-v3-ethereum-0xpool",
			ProtocolSlug:    "aave-v3",
			ProtocolName:    "Aave V3",
			ProtocolType:    position.ProtocolLending,
			PositionType:    "contract-position",
			MetaType:        "SUPPLIED",
			PoolName:        "Supply Pool",
			Symbol:          "aUSDC",
			Balance:         1500,
			BalanceUSD:      1500,
			Price:           1,
			IsActive:        true,
			LastSyncAt:      now,
			RawData:         []byte(`{"tokens":[]}`),
		},
	}
	if err := store.UpsertPositions(ctx, records); err != nil {
		t.Fatalf("upsert positions: %v", err)
	}
	if err := store.UpsertPositions(ctx, records); err != nil {
		t.Fatalf("re-upsert positions: %v", err)
	}

	active, err := store.ListActive(ctx, walletID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active after double upsert: got %d, want 1", len(active))
	}

	stale, err := store.MarkStale(ctx, walletID, "zapper", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if stale != 1 {
		t.Errorf("marked stale: got %d, want 1", stale)
	}

	purged, err := store.PurgeInactive(ctx, walletID, "zapper", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged: got %d, want 1", purged)
	}

	active, err = store.ListActive(ctx, walletID)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active after purge: got %d, want 0", len(active))
	}
}
