package position

import (
	"strings"

	"defitrack/internal/aggregator"
)

// ProtocolType is the coarse protocol classification derived from the
// upstream category string.
type ProtocolType string

const (
	ProtocolDEX         ProtocolType = "dex"
	ProtocolLending     ProtocolType = "lending"
	ProtocolYield       ProtocolType = "yield"
	ProtocolStaking     ProtocolType = "staking"
	ProtocolInsurance   ProtocolType = "insurance"
	ProtocolDerivatives ProtocolType = "derivatives"
	ProtocolBridge      ProtocolType = "bridge"
	ProtocolNFT         ProtocolType = "nft"
	ProtocolOther       ProtocolType = "other"
)

// categoryKeywords is ordered: the first matching keyword wins.
var categoryKeywords = []struct {
	keyword string
	ptype   ProtocolType
}{
	{"dex", ProtocolDEX},
	{"exchange", ProtocolDEX},
	{"swap", ProtocolDEX},
	{"amm", ProtocolDEX},
	{"lend", ProtocolLending},
	{"borrow", ProtocolLending},
	{"money market", ProtocolLending},
	{"yield", ProtocolYield},
	{"farm", ProtocolYield},
	{"vault", ProtocolYield},
	{"stak", ProtocolStaking},
	{"insur", ProtocolInsurance},
	{"cover", ProtocolInsurance},
	{"deriv", ProtocolDerivatives},
	{"perp", ProtocolDerivatives},
	{"option", ProtocolDerivatives},
	{"bridge", ProtocolBridge},
	{"nft", ProtocolNFT},
	{"collectible", ProtocolNFT},
}

// ClassifyProtocol maps a free-form category string onto a ProtocolType.
// Matching is case-insensitive substring; unmatched categories are Other.
func ClassifyProtocol(category string) ProtocolType {
	lower := strings.ToLower(category)
	for _, entry := range categoryKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.ptype
		}
	}
	return ProtocolOther
}

// positionTypes translates upstream position variants into the persisted
// position type vocabulary.
var positionTypes = map[string]string{
	aggregator.PositionAppToken:    "liquidity-pool",
	aggregator.PositionContract:    "contract-position",
	aggregator.PositionNonFungible: "nft",
}

// TranslatePositionType returns the persisted position type for an upstream
// variant, defaulting to the variant name itself for forward compatibility.
func TranslatePositionType(variant string) string {
	if t, ok := positionTypes[variant]; ok {
		return t
	}
	return variant
}
