package position

import "defitrack/internal/aggregator"

// Summary aggregates a wallet's DeFi exposure across all parsed apps.
type Summary struct {
	TotalSupplied  float64 `json:"totalSupplied"`
	TotalBorrowed  float64 `json:"totalBorrowed"`
	TotalClaimable float64 `json:"totalClaimable"`
	NFTValue       float64 `json:"nftValue"`
	NetWorth       float64 `json:"netWorth"`

	// HealthRatio is supplied/borrowed; 0 when nothing is borrowed.
	HealthRatio float64 `json:"healthRatio"`
}

// ComputeSummary derives net-worth figures from parsed app balances.
// App-token positions count as supplied in full; contract positions are
// split by token meta-type.
func ComputeSummary(apps []*aggregator.ParsedApp) Summary {
	var s Summary

	for _, app := range apps {
		for _, pos := range app.Positions {
			switch pos.Type {
			case aggregator.PositionAppToken:
				s.TotalSupplied += pos.BalanceUSD
			case aggregator.PositionNonFungible:
				s.NFTValue += pos.BalanceUSD
			case aggregator.PositionContract:
				for _, tok := range pos.Tokens {
					switch tok.MetaType {
					case aggregator.MetaBorrowed:
						s.TotalBorrowed += tok.BalanceUSD
					case aggregator.MetaClaimable:
						s.TotalClaimable += tok.BalanceUSD
					default:
						s.TotalSupplied += tok.BalanceUSD
					}
				}
			}
		}
	}

	s.NetWorth = s.TotalSupplied + s.TotalClaimable + s.NFTValue - s.TotalBorrowed
	if s.TotalBorrowed > 0 {
		s.HealthRatio = s.TotalSupplied / s.TotalBorrowed
	}
	return s
}
