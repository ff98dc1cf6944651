package position_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"defitrack/internal/aggregator"
	"defitrack/internal/position"
)

func TestClassifyProtocol(t *testing.T) {
	cases := []struct {
		category string
		want     position.ProtocolType
	}{
		{"Decentralized Exchange", position.ProtocolDEX},
		{"DEX Aggregator", position.ProtocolDEX},
		{"Lending", position.ProtocolLending},
		{"Borrowing Platform", position.ProtocolLending},
		{"Yield Aggregator", position.ProtocolYield},
		{"Farming", position.ProtocolYield},
		{"Liquid Staking", position.ProtocolStaking},
		{"Insurance", position.ProtocolInsurance},
		{"Derivatives", position.ProtocolDerivatives},
		{"Perpetuals", position.ProtocolDerivatives},
		{"Bridge", position.ProtocolBridge},
		{"NFT Marketplace", position.ProtocolNFT},
		{"Something Else", position.ProtocolOther},
		{"", position.ProtocolOther},
	}

	for _, tc := range cases {
		if got := position.ClassifyProtocol(tc.category); got != tc.want {
			t.Errorf("ClassifyProtocol(%q) = %s, want %s", tc.category, got, tc.want)
		}
	}
}

func TestTranslatePositionType(t *testing.T) {
	cases := []struct {
		variant string
		want    string
	}{
		{aggregator.PositionAppToken, "liquidity-pool"},
		{aggregator.PositionContract, "contract-position"},
		{aggregator.PositionNonFungible, "nft"},
		{"future-variant", "future-variant"},
	}

	for _, tc := range cases {
		if got := position.TranslatePositionType(tc.variant); got != tc.want {
			t.Errorf("TranslatePositionType(%q) = %q, want %q", tc.variant, got, tc.want)
		}
	}
}

func TestLookupRisk_UnknownSlugDefaults(t *testing.T) {
	profile := position.LookupRisk("zzz-unknown")
	if profile.Score != 50 {
		t.Errorf("unknown slug risk score: got %d, want 50", profile.Score)
	}
	if profile.Verified {
		t.Error("unknown slug must be unverified")
	}
}

func TestLookupRisk_KnownSlug(t *testing.T) {
	profile := position.LookupRisk("aave-v3")
	if !profile.Verified {
		t.Error("aave-v3 should be verified")
	}
	if profile.Score >= position.DefaultRiskProfile.Score {
		t.Errorf("aave-v3 score %d should be below the default %d",
			profile.Score, position.DefaultRiskProfile.Score)
	}
}

func sampleApp() *aggregator.ParsedApp {
	return &aggregator.ParsedApp{
		DisplayName: "Aave V3",
		Slug:        "aave-v3",
		Category:    "Lending",
		Network:     "ethereum",
		BalanceUSD:  1000,
		Positions: []*aggregator.ParsedPosition{
			{
				Type:       aggregator.PositionContract,
				Address:    "0xpool",
				Network:    "ethereum",
				BalanceUSD: 1000,
				GroupID:    "supply",
				GroupLabel: "Supply Pool",
				Tokens: []*aggregator.ParsedToken{
					{
						Type:            "base-token",
						ContractAddress: "0xusdc",
						Network:         "ethereum",
						Balance:         1500,
						BalanceUSD:      1500,
						Price:           1,
						Symbol:          "USDC",
						Decimals:        6,
						Level:           1,
						MetaType:        aggregator.MetaSupplied,
					},
					{
						Type:            "base-token",
						ContractAddress: "0xweth",
						Network:         "ethereum",
						Balance:         0.25,
						BalanceUSD:      500,
						Price:           2000,
						Symbol:          "WETH",
						Decimals:        18,
						Level:           1,
						MetaType:        aggregator.MetaBorrowed,
					},
				},
			},
		},
	}
}

func TestMapApp(t *testing.T) {
	walletID := uuid.New()
	now := time.Now()

	appRec, records := position.NewMapper("zapper").MapApp(walletID, sampleApp(), now)

	if appRec.Slug != "aave-v3" || appRec.Network != "ethereum" {
		t.Errorf("app identity: got %s/%s", appRec.Slug, appRec.Network)
	}
	if appRec.ProtocolType != position.ProtocolLending {
		t.Errorf("protocol type: got %s, want lending", appRec.ProtocolType)
	}
	if !appRec.IsVerified {
		t.Error("aave-v3 app record should be verified")
	}

	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	rec := records[0]

	if rec.WalletID != walletID {
		t.Errorf("wallet id: got %s, want %s", rec.WalletID, walletID)
	}
	if rec.SyncSource != "zapper" {
		t.Errorf("sync source: got %s, want zapper", rec.SyncSource)
	}
	if rec.ExternalID != "aave-v3-ethereum-0xpool" {
		t.Errorf("external id: got %s, want aave-v3-ethereum-0xpool", rec.ExternalID)
	}
	if rec.PositionType != "contract-position" {
		t.Errorf("position type: got %s", rec.PositionType)
	}
	if rec.MetaType != string(aggregator.MetaSupplied) {
		t.Errorf("dominant meta type: got %s, want SUPPLIED", rec.MetaType)
	}
	if rec.PoolName != "Supply Pool" {
		t.Errorf("pool name: got %s, want Supply Pool", rec.PoolName)
	}
	if !rec.IsActive {
		t.Error("fresh record must be active")
	}
	if !rec.LastSyncAt.Equal(now) {
		t.Errorf("last sync at: got %v, want %v", rec.LastSyncAt, now)
	}
	if len(rec.RawData) == 0 {
		t.Error("token snapshot missing")
	}
}

func TestMapApp_NonFungibleMetaType(t *testing.T) {
	app := &aggregator.ParsedApp{
		Slug:     "opensea",
		Category: "NFT Marketplace",
		Network:  "ethereum",
		Positions: []*aggregator.ParsedPosition{
			{Type: aggregator.PositionNonFungible, Address: "0xnft", Network: "ethereum", BalanceUSD: 100},
		},
	}

	_, records := position.NewMapper("zapper").MapApp(uuid.New(), app, time.Now())
	if records[0].MetaType != string(aggregator.MetaNFT) {
		t.Errorf("nft meta type: got %s, want NFT", records[0].MetaType)
	}
	if records[0].PositionType != "nft" {
		t.Errorf("nft position type: got %s, want nft", records[0].PositionType)
	}
}

func TestComputeSummary_SuppliedAndBorrowed(t *testing.T) {
	summary := position.ComputeSummary([]*aggregator.ParsedApp{sampleApp()})

	if summary.TotalSupplied != 1500 {
		t.Errorf("totalSupplied: got %v, want 1500", summary.TotalSupplied)
	}
	if summary.TotalBorrowed != 500 {
		t.Errorf("totalBorrowed: got %v, want 500", summary.TotalBorrowed)
	}
	if summary.NetWorth != 1000 {
		t.Errorf("netWorth: got %v, want 1000", summary.NetWorth)
	}
	if summary.HealthRatio != 3.0 {
		t.Errorf("healthRatio: got %v, want 3.0", summary.HealthRatio)
	}
}

func TestComputeSummary_NoBorrow(t *testing.T) {
	app := &aggregator.ParsedApp{
		Slug:    "uniswap-v3",
		Network: "ethereum",
		Positions: []*aggregator.ParsedPosition{
			{Type: aggregator.PositionAppToken, Address: "0xlp", BalanceUSD: 2000},
		},
	}

	summary := position.ComputeSummary([]*aggregator.ParsedApp{app})
	if summary.TotalSupplied != 2000 {
		t.Errorf("totalSupplied: got %v, want 2000", summary.TotalSupplied)
	}
	if summary.HealthRatio != 0 {
		t.Errorf("healthRatio with no debt: got %v, want 0", summary.HealthRatio)
	}
	if summary.NetWorth != 2000 {
		t.Errorf("netWorth: got %v, want 2000", summary.NetWorth)
	}
}
