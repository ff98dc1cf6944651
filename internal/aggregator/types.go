package aggregator

import "fmt"

// MetaType classifies a token's role within a contract position.
type MetaType string

const (
	MetaSupplied  MetaType = "SUPPLIED"
	MetaBorrowed  MetaType = "BORROWED"
	MetaClaimable MetaType = "CLAIMABLE"
	MetaVesting   MetaType = "VESTING"
	MetaLocked    MetaType = "LOCKED"
	MetaNFT       MetaType = "NFT"
	MetaWallet    MetaType = "WALLET"
)

// ParseMetaType maps an upstream meta-type tag onto the closed enumeration.
// Unknown tags fall back to SUPPLIED; the second return reports whether the
// tag was recognized so the caller can surface the fallback.
func ParseMetaType(s string) (MetaType, bool) {
	switch MetaType(s) {
	case MetaSupplied, MetaBorrowed, MetaClaimable, MetaVesting, MetaLocked, MetaNFT, MetaWallet:
		return MetaType(s), true
	default:
		return MetaSupplied, false
	}
}

// Position variant discriminators used by the upstream API.
const (
	PositionAppToken    = "app-token"
	PositionContract    = "contract-position"
	PositionNonFungible = "non-fungible"
)

// MaxTokenDepth bounds token recursion. The upstream data's nesting depth is
// not contractually bounded, so parsing hard-stops here.
const MaxTokenDepth = 3

// ParsedToken is one balance unit inside a position. Level starts at 1 for
// a position's direct tokens and increases with nesting; subtrees below
// MaxTokenDepth are dropped.
type ParsedToken struct {
	Type             string        `json:"type"`
	ContractAddress  string        `json:"contractAddress"`
	Network          string        `json:"network"`
	Balance          float64       `json:"balance"`
	BalanceUSD       float64       `json:"balanceUsd"`
	Price            float64       `json:"price"`
	Symbol           string        `json:"symbol"`
	Decimals         int           `json:"decimals"`
	Level            int           `json:"level"`
	MetaType         MetaType      `json:"metaType,omitempty"`
	UnderlyingTokens []*ParsedToken `json:"underlyingTokens,omitempty"`
}

// ParsedPosition is one holding within an app: one of the three upstream
// variants, flattened into a single struct with Type as the discriminant.
type ParsedPosition struct {
	Type       string         `json:"type"`
	Address    string         `json:"address"`
	Network    string         `json:"network"`
	Symbol     string         `json:"symbol,omitempty"`
	Decimals   int            `json:"decimals,omitempty"`
	Balance    float64        `json:"balance,omitempty"`
	BalanceUSD float64        `json:"balanceUsd"`
	Price      float64        `json:"price,omitempty"`
	GroupID    string         `json:"groupId,omitempty"`
	GroupLabel string         `json:"groupLabel,omitempty"`
	Tokens     []*ParsedToken `json:"tokens"`

	// Raw is the unmodified upstream node, kept as an audit snapshot.
	Raw []byte `json:"-"`
}

// ParsedApp is one protocol deployment on one network.
type ParsedApp struct {
	DisplayName string            `json:"displayName"`
	Slug        string            `json:"slug"`
	Category    string            `json:"category"`
	Network     string            `json:"network"`
	BalanceUSD  float64           `json:"balanceUsd"`
	Positions   []*ParsedPosition `json:"positions"`
}

// AppBalances is the parsed top-level aggregate.
type AppBalances struct {
	TotalBalanceUSD float64      `json:"totalBalanceUsd"`
	Apps            []*ParsedApp `json:"apps"`
}

// ParseError signals that the aggregator response violated the top-level
// contract. It is fatal for the sync attempt; the job's retry policy applies.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("aggregator response malformed: %s", e.Reason)
}
