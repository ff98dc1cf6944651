package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"defitrack/internal/config"
)

// portfolioQuery pulls the nested app/position/token graph for one wallet.
// The response shape beyond the top-level contract is treated as opaque.
const portfolioQuery = `query PortfolioV2($addresses: [Address!]!) {
  portfolioV2(addresses: $addresses) {
    appBalances {
      totalBalanceUSD
      byApp(first: 100) {
        edges {
          node {
            balanceUSD
            app { displayName slug category { name } }
            network { name slug }
            positionBalances(first: 100) {
              edges { node }
            }
          }
        }
      }
    }
  }
}`

// Client talks to the upstream portfolio aggregator. Responses are cached
// briefly so a retried job or a burst of manual triggers does not hammer
// the upstream API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	cache      *gocache.Cache
	logger     zerolog.Logger
}

func NewClient(cfg config.AggregatorConfig, logger zerolog.Logger) *Client {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		cache:      gocache.New(ttl, 2*ttl),
		logger:     logger,
	}
}

// FetchAppBalances returns the raw aggregator document for one wallet
// address. Transient upstream failures are retried with linear backoff up
// to maxRetries before the error propagates to the job's retry policy.
func (c *Client) FetchAppBalances(ctx context.Context, address string) ([]byte, error) {
	if cached, ok := c.cache.Get(address); ok {
		c.logger.Debug().Str("address", address).Msg("aggregator cache hit")
		return cached.([]byte), nil
	}

	body := fmt.Sprintf(`{"query":%q,"variables":{"addresses":[%q]}}`, portfolioQuery, address)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		data, err := c.doRequest(ctx, body)
		if err == nil {
			c.cache.SetDefault(address, data)
			return data, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("address", address).
			Msg("aggregator request failed")
	}
	return nil, fmt.Errorf("aggregator fetch for %s: %w", address, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-zapper-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a bounded slice of the body for error context only.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
