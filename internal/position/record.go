package position

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one persisted DeFi position. Identity is the composite key
// (WalletID, ContractAddress, Network, SyncSource): repeated writes for the
// same key are idempotent upserts, which keeps concurrent syncs safe
// without external locking.
type Record struct {
	WalletID        uuid.UUID
	ContractAddress string
	Network         string
	SyncSource      string

	// ExternalID is the synthetic {slug}-{network}-{address} key, used for
	// idempotency tracing and debugging only.
	ExternalID string

	ProtocolSlug string
	ProtocolName string
	ProtocolType ProtocolType
	PositionType string
	MetaType     string
	PoolName     string
	Symbol       string

	Balance    float64
	BalanceUSD float64
	Price      float64

	IsActive   bool
	LastSyncAt time.Time

	// RawData is the serialized snapshot of constituent tokens and display
	// metadata, kept for audit and debugging.
	RawData []byte
}

// AppRecord is one persisted protocol deployment, keyed by (Slug, Network).
// Updated in place on every sync; never deleted by the sync path.
type AppRecord struct {
	Slug         string
	Network      string
	DisplayName  string
	Category     string
	ProtocolType ProtocolType
	RiskScore    int
	IsVerified   bool
	BalanceUSD   float64
	LastSyncAt   time.Time
}

// MappingError signals a persistence failure while upserting a wallet's
// positions. It aborts that wallet's sync; reconciliation is idempotent and
// self-corrects on the next attempt.
type MappingError struct {
	WalletID uuid.UUID
	Op       string
	Err      error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping wallet %s (%s): %v", e.WalletID, e.Op, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
