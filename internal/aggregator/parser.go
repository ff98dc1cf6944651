package aggregator

import (
	"encoding/json"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"defitrack/internal/observability"
)

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

// Parser converts raw aggregator responses into normalized app balances.
// It performs no I/O and keeps no state between calls; the logger and
// metrics only record defaulting decisions (unknown meta-types, malformed
// balances) that would otherwise be silent.
type Parser struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewParser(logger zerolog.Logger, metrics *observability.Metrics) *Parser {
	return &Parser{logger: logger, metrics: metrics}
}

// --- wire shapes ---
// The aggregator returns a GraphQL-style document. Only the fields needed
// for normalization are declared; everything else is opaque pass-through.

type rawEnvelope struct {
	PortfolioV2 *struct {
		AppBalances *rawAppBalances `json:"appBalances"`
	} `json:"portfolioV2"`
}

type rawAppBalances struct {
	TotalBalanceUSD float64 `json:"totalBalanceUSD"`
	ByApp           struct {
		Edges []struct {
			Node rawAppNode `json:"node"`
		} `json:"edges"`
	} `json:"byApp"`
}

type rawAppNode struct {
	App struct {
		DisplayName string `json:"displayName"`
		Slug        string `json:"slug"`
		Category    struct {
			Name string `json:"name"`
		} `json:"category"`
	} `json:"app"`
	Network struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"network"`
	BalanceUSD       float64 `json:"balanceUSD"`
	PositionBalances struct {
		Edges []struct {
			Node json.RawMessage `json:"node"`
		} `json:"edges"`
	} `json:"positionBalances"`
}

type rawTypeProbe struct {
	Type string `json:"type"`
}

type rawAppTokenNode struct {
	Type       string          `json:"type"`
	Address    string          `json:"address"`
	Network    string          `json:"network"`
	Symbol     string          `json:"symbol"`
	Decimals   int             `json:"decimals"`
	Balance    json.RawMessage `json:"balance"`
	BalanceUSD float64         `json:"balanceUSD"`
	Price      float64         `json:"price"`
	GroupID    string          `json:"groupId"`
	GroupLabel string          `json:"groupLabel"`
	Tokens     []rawToken      `json:"tokens"`
}

type rawContractNode struct {
	Type       string         `json:"type"`
	Address    string         `json:"address"`
	Network    string         `json:"network"`
	BalanceUSD float64        `json:"balanceUSD"`
	GroupID    string         `json:"groupId"`
	GroupLabel string         `json:"groupLabel"`
	Tokens     []rawMetaToken `json:"tokens"`
}

type rawMetaToken struct {
	MetaType string   `json:"metaType"`
	Token    rawToken `json:"token"`
}

type rawNonFungibleNode struct {
	Type       string          `json:"type"`
	Address    string          `json:"address"`
	Network    string          `json:"network"`
	Symbol     string          `json:"symbol"`
	Balance    json.RawMessage `json:"balance"`
	BalanceUSD float64         `json:"balanceUSD"`
	GroupID    string          `json:"groupId"`
	GroupLabel string          `json:"groupLabel"`
	Tokens     []rawToken      `json:"tokens"`
}

type rawToken struct {
	Type       string          `json:"type"`
	Address    string          `json:"address"`
	Network    string          `json:"network"`
	Balance    json.RawMessage `json:"balance"`
	BalanceUSD float64         `json:"balanceUSD"`
	Price      float64         `json:"price"`
	Symbol     string          `json:"symbol"`
	Decimals   int             `json:"decimals"`
	Tokens     []rawToken      `json:"tokens"`
}

// Parse walks the aggregator's app/position/token graph and produces the
// flat, typed balance set. A missing portfolioV2.appBalances node is a
// contract violation and returns *ParseError; all deeper deviations are
// defaulted per-field so one bad token never poisons the response.
func (p *Parser) Parse(raw []byte) (*AppBalances, error) {
	var env rawEnvelope
	if err := jsonIter.Unmarshal(raw, &env); err != nil {
		p.countFailure()
		return nil, &ParseError{Reason: "invalid JSON: " + err.Error()}
	}
	if env.PortfolioV2 == nil || env.PortfolioV2.AppBalances == nil {
		p.countFailure()
		return nil, &ParseError{Reason: "missing portfolioV2.appBalances"}
	}

	ab := env.PortfolioV2.AppBalances
	out := &AppBalances{
		TotalBalanceUSD: ab.TotalBalanceUSD,
		Apps:            make([]*ParsedApp, 0, len(ab.ByApp.Edges)),
	}

	for _, edge := range ab.ByApp.Edges {
		out.Apps = append(out.Apps, p.parseApp(edge.Node))
	}
	return out, nil
}

func (p *Parser) parseApp(node rawAppNode) *ParsedApp {
	network := node.Network.Slug
	if network == "" {
		network = strings.ToLower(node.Network.Name)
	}

	app := &ParsedApp{
		DisplayName: node.App.DisplayName,
		Slug:        node.App.Slug,
		Category:    node.App.Category.Name,
		Network:     network,
		BalanceUSD:  node.BalanceUSD,
		Positions:   make([]*ParsedPosition, 0, len(node.PositionBalances.Edges)),
	}

	for _, edge := range node.PositionBalances.Edges {
		pos := p.parsePosition(edge.Node, network)
		if pos != nil {
			app.Positions = append(app.Positions, pos)
		}
	}

	if p.metrics != nil {
		p.metrics.ParserAppsParsed.Inc()
	}
	return app
}

// parsePosition dispatches on the node's discriminant field. Nodes with an
// unrecognized variant are skipped, not failed: the rest of the response
// still normalizes.
func (p *Parser) parsePosition(node json.RawMessage, appNetwork string) *ParsedPosition {
	var probe rawTypeProbe
	if err := jsonIter.Unmarshal(node, &probe); err != nil {
		p.logger.Warn().Err(err).Msg("skipping unreadable position node")
		return nil
	}

	var pos *ParsedPosition
	switch probe.Type {
	case PositionAppToken:
		pos = p.parseAppToken(node)
	case PositionContract:
		pos = p.parseContractPosition(node)
	case PositionNonFungible:
		pos = p.parseNonFungible(node)
	default:
		p.logger.Warn().Str("type", probe.Type).Msg("skipping unknown position variant")
		return nil
	}

	if pos != nil {
		if pos.Network == "" {
			pos.Network = appNetwork
		}
		pos.Raw = append([]byte(nil), node...)
		if p.metrics != nil {
			p.metrics.ParserPositionsParsed.WithLabelValues(pos.Type).Inc()
		}
	}
	return pos
}

func (p *Parser) parseAppToken(node json.RawMessage) *ParsedPosition {
	var n rawAppTokenNode
	if err := jsonIter.Unmarshal(node, &n); err != nil {
		p.logger.Warn().Err(err).Msg("skipping malformed app-token node")
		return nil
	}
	return &ParsedPosition{
		Type:       PositionAppToken,
		Address:    n.Address,
		Network:    n.Network,
		Symbol:     n.Symbol,
		Decimals:   n.Decimals,
		Balance:    p.parseBalance(n.Balance),
		BalanceUSD: n.BalanceUSD,
		Price:      n.Price,
		GroupID:    n.GroupID,
		GroupLabel: n.GroupLabel,
		Tokens:     p.parseTokens(n.Tokens, 1),
	}
}

func (p *Parser) parseContractPosition(node json.RawMessage) *ParsedPosition {
	var n rawContractNode
	if err := jsonIter.Unmarshal(node, &n); err != nil {
		p.logger.Warn().Err(err).Msg("skipping malformed contract-position node")
		return nil
	}

	tokens := make([]*ParsedToken, 0, len(n.Tokens))
	for _, mt := range n.Tokens {
		tok := p.parseToken(mt.Token, 1)
		if tok == nil {
			continue
		}
		metaType, known := ParseMetaType(mt.MetaType)
		if !known {
			// Deliberately conservative: unrecognized tags count as SUPPLIED.
			// Logged and counted because that can skew net-worth math.
			p.logger.Warn().
				Str("metaType", mt.MetaType).
				Str("address", tok.ContractAddress).
				Msg("unknown meta-type, defaulting to SUPPLIED")
			if p.metrics != nil {
				p.metrics.ParserMetaTypeFallback.WithLabelValues(mt.MetaType).Inc()
			}
		}
		tok.MetaType = metaType
		tokens = append(tokens, tok)
	}

	return &ParsedPosition{
		Type:       PositionContract,
		Address:    n.Address,
		Network:    n.Network,
		BalanceUSD: n.BalanceUSD,
		GroupID:    n.GroupID,
		GroupLabel: n.GroupLabel,
		Tokens:     tokens,
	}
}

func (p *Parser) parseNonFungible(node json.RawMessage) *ParsedPosition {
	var n rawNonFungibleNode
	if err := jsonIter.Unmarshal(node, &n); err != nil {
		p.logger.Warn().Err(err).Msg("skipping malformed non-fungible node")
		return nil
	}
	return &ParsedPosition{
		Type:       PositionNonFungible,
		Address:    n.Address,
		Network:    n.Network,
		Symbol:     n.Symbol,
		Balance:    p.parseBalance(n.Balance),
		BalanceUSD: n.BalanceUSD,
		GroupID:    n.GroupID,
		GroupLabel: n.GroupLabel,
		Tokens:     p.parseTokens(n.Tokens, 1),
	}
}

func (p *Parser) parseTokens(raw []rawToken, level int) []*ParsedToken {
	if len(raw) == 0 {
		return nil
	}
	out := make([]*ParsedToken, 0, len(raw))
	for _, rt := range raw {
		if tok := p.parseToken(rt, level); tok != nil {
			out = append(out, tok)
		}
	}
	return out
}

// parseToken converts one token node. Recursion hard-stops at MaxTokenDepth
// regardless of how deeply the input nests.
func (p *Parser) parseToken(rt rawToken, level int) *ParsedToken {
	if level > MaxTokenDepth {
		if p.metrics != nil {
			p.metrics.ParserDepthTruncations.Inc()
		}
		return nil
	}

	tok := &ParsedToken{
		Type:            rt.Type,
		ContractAddress: rt.Address,
		Network:         rt.Network,
		Balance:         p.parseBalance(rt.Balance),
		BalanceUSD:      rt.BalanceUSD,
		Price:           rt.Price,
		Symbol:          rt.Symbol,
		Decimals:        rt.Decimals,
		Level:           level,
	}
	if len(rt.Tokens) > 0 {
		tok.UnderlyingTokens = p.parseTokens(rt.Tokens, level+1)
	}

	if p.metrics != nil {
		p.metrics.ParserTokensParsed.Inc()
	}
	return tok
}

// parseBalance accepts either a quoted numeric string or a bare number.
// Malformed input yields 0, isolating the damage to that token.
func (p *Parser) parseBalance(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.logger.Debug().Str("balance", s).Msg("malformed balance, defaulting to 0")
		if p.metrics != nil {
			p.metrics.ParserBalanceFallbacks.Inc()
		}
		return 0
	}
	return v
}

func (p *Parser) countFailure() {
	if p.metrics != nil {
		p.metrics.ParserFailures.Inc()
	}
}
