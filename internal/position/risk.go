package position

// RiskProfile describes how much we trust a protocol. Scores run 0 (safest)
// to 100; unknown protocols get the conservative default below.
type RiskProfile struct {
	Score    int
	Verified bool
}

// DefaultRiskProfile is applied to any protocol slug not in the registry:
// medium risk, unverified.
var DefaultRiskProfile = RiskProfile{Score: 50, Verified: false}

// riskRegistry is a static lookup keyed by protocol slug.
var riskRegistry = map[string]RiskProfile{
	"uniswap-v2":    {Score: 25, Verified: true},
	"uniswap-v3":    {Score: 20, Verified: true},
	"aave-v2":       {Score: 20, Verified: true},
	"aave-v3":       {Score: 15, Verified: true},
	"compound-v3":   {Score: 20, Verified: true},
	"curve":         {Score: 25, Verified: true},
	"lido":          {Score: 20, Verified: true},
	"rocket-pool":   {Score: 25, Verified: true},
	"maker":         {Score: 20, Verified: true},
	"sushiswap":     {Score: 30, Verified: true},
	"balancer-v2":   {Score: 30, Verified: true},
	"pancakeswap":   {Score: 35, Verified: true},
	"convex":        {Score: 30, Verified: true},
	"yearn":         {Score: 35, Verified: true},
	"gmx":           {Score: 40, Verified: true},
	"stargate":      {Score: 40, Verified: true},
	"velodrome-v2":  {Score: 40, Verified: true},
	"morpho":        {Score: 30, Verified: true},
	"pendle":        {Score: 40, Verified: true},
	"spark":         {Score: 25, Verified: true},
}

// LookupRisk returns the risk profile for a protocol slug.
func LookupRisk(slug string) RiskProfile {
	if profile, ok := riskRegistry[slug]; ok {
		return profile
	}
	return DefaultRiskProfile
}
