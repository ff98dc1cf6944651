package position

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"defitrack/internal/aggregator"
)

// Mapper turns parsed apps into persistable records for one sync source.
// Pure computation; persistence failures belong to the store.
type Mapper struct {
	source string
}

func NewMapper(source string) *Mapper {
	return &Mapper{source: source}
}

// Source returns the sync-source tag stamped on every mapped record.
func (m *Mapper) Source() string {
	return m.source
}

// tokenSnapshot is the audit payload serialized into Record.RawData.
type tokenSnapshot struct {
	PositionType string                    `json:"positionType"`
	GroupID      string                    `json:"groupId,omitempty"`
	GroupLabel   string                    `json:"groupLabel,omitempty"`
	Symbol       string                    `json:"symbol,omitempty"`
	Tokens       []*aggregator.ParsedToken `json:"tokens,omitempty"`
}

// MapApp maps one parsed app to its app record and position records.
// now becomes LastSyncAt on every record so reconciliation can distinguish
// records written by this sync from leftovers of earlier ones.
func (m *Mapper) MapApp(walletID uuid.UUID, app *aggregator.ParsedApp, now time.Time) (*AppRecord, []*Record) {
	risk := LookupRisk(app.Slug)
	protocolType := ClassifyProtocol(app.Category)

	appRec := &AppRecord{
		Slug:         app.Slug,
		Network:      app.Network,
		DisplayName:  app.DisplayName,
		Category:     app.Category,
		ProtocolType: protocolType,
		RiskScore:    risk.Score,
		IsVerified:   risk.Verified,
		BalanceUSD:   app.BalanceUSD,
		LastSyncAt:   now,
	}

	records := make([]*Record, 0, len(app.Positions))
	for _, pos := range app.Positions {
		records = append(records, m.mapPosition(walletID, app, pos, protocolType, now))
	}
	return appRec, records
}

func (m *Mapper) mapPosition(
	walletID uuid.UUID,
	app *aggregator.ParsedApp,
	pos *aggregator.ParsedPosition,
	protocolType ProtocolType,
	now time.Time,
) *Record {
	snapshot, err := json.Marshal(tokenSnapshot{
		PositionType: pos.Type,
		GroupID:      pos.GroupID,
		GroupLabel:   pos.GroupLabel,
		Symbol:       pos.Symbol,
		Tokens:       pos.Tokens,
	})
	if err != nil {
		// Marshal of our own structs cannot realistically fail; keep the
		// upstream node so the audit trail survives anyway.
		snapshot = pos.Raw
	}

	return &Record{
		WalletID:        walletID,
		ContractAddress: pos.Address,
		Network:         pos.Network,
		SyncSource:      m.source,
		ExternalID:      ExternalPositionID(app.Slug, pos.Network, pos.Address),
		ProtocolSlug:    app.Slug,
		ProtocolName:    app.DisplayName,
		ProtocolType:    protocolType,
		PositionType:    TranslatePositionType(pos.Type),
		MetaType:        string(dominantMetaType(pos)),
		PoolName:        poolName(pos),
		Symbol:          pos.Symbol,
		Balance:         pos.Balance,
		BalanceUSD:      pos.BalanceUSD,
		Price:           pos.Price,
		IsActive:        true,
		LastSyncAt:      now,
		RawData:         snapshot,
	}
}

// ExternalPositionID builds the synthetic {slug}-{network}-{address} key.
func ExternalPositionID(protocolSlug, network, address string) string {
	return fmt.Sprintf("%s-%s-%s", protocolSlug, network, address)
}

// poolName prefers the protocol-assigned group label, falling back to the
// position symbol.
func poolName(pos *aggregator.ParsedPosition) string {
	if pos.GroupLabel != "" {
		return pos.GroupLabel
	}
	if pos.Symbol != "" {
		return pos.Symbol
	}
	return pos.GroupID
}

// dominantMetaType picks the persisted meta-type for a whole position:
// the highest-value token's tag for contract positions, NFT for
// non-fungibles, SUPPLIED otherwise.
func dominantMetaType(pos *aggregator.ParsedPosition) aggregator.MetaType {
	switch pos.Type {
	case aggregator.PositionNonFungible:
		return aggregator.MetaNFT
	case aggregator.PositionContract:
		best := aggregator.MetaSupplied
		bestUSD := -1.0
		for _, tok := range pos.Tokens {
			if tok.MetaType != "" && tok.BalanceUSD > bestUSD {
				best = tok.MetaType
				bestUSD = tok.BalanceUSD
			}
		}
		return best
	default:
		return aggregator.MetaSupplied
	}
}
