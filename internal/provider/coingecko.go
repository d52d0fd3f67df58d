package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartflow/internal/ratelimit"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// coingeckoPlatforms maps chain names used by signals to CoinGecko asset
// platform ids.
var coingeckoPlatforms = map[string]string{
	"ethereum":  "ethereum",
	"eth":       "ethereum",
	"base":      "base",
	"arbitrum":  "arbitrum-one",
	"optimism":  "optimistic-ethereum",
	"polygon":   "polygon-pos",
	"bnb":       "binance-smart-chain",
	"bsc":       "binance-smart-chain",
	"avalanche": "avalanche",
	"solana":    "solana",
	"linea":     "linea",
	"blast":     "blast",
}

// coingeckoFreeTier allows the free API's ~8 calls per minute with a small burst.
var coingeckoFreeTier = ratelimit.Config{MaxTokens: 2, RefillRate: 8.0 / 60.0, MinDelay: 500 * time.Millisecond}

// CoinGeckoProvider quotes USD token prices by contract address.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *ratelimit.Limiter
}

// NewCoinGeckoProvider creates a provider throttled to the free tier. An
// empty baseURL uses the public API.
func NewCoinGeckoProvider(tracer trace.Tracer, baseURL string) *CoinGeckoProvider {
	if baseURL == "" {
		baseURL = coingeckoBaseURL
	}
	return &CoinGeckoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
		limiter: ratelimit.New(coingeckoFreeTier),
	}
}

// Platform returns the CoinGecko platform id for chain.
func Platform(chain string) (string, bool) {
	p, ok := coingeckoPlatforms[strings.ToLower(strings.TrimSpace(chain))]
	return p, ok
}

// FetchTokenPrice returns the USD price of the token at address on chain.
func (p *CoinGeckoProvider) FetchTokenPrice(ctx context.Context, chain, address string) (float64, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-token-price")
	defer span.End()
	span.SetAttributes(attribute.String("chain", chain), attribute.String("token", address))

	platform, ok := Platform(chain)
	if !ok {
		return 0, fmt.Errorf("unsupported chain: %s", chain)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return 0, fmt.Errorf("token address is required")
	}

	endpoint := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd",
		p.baseURL, platform, url.QueryEscape(address))

	body, err := p.doRequest(ctx, endpoint)
	if err != nil {
		return 0, fmt.Errorf("fetch token price %s/%s: %w", chain, address, err)
	}

	// Response shape: {"0xabc...": {"usd": 1.23}}; EVM addresses come back lower-cased.
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("parse token price: %w", err)
	}
	for addr, quote := range raw {
		if addr != address && !strings.EqualFold(addr, address) {
			continue
		}
		if price, ok := quote["usd"]; ok {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no usd price for %s on %s", address, chain)
}

func (p *CoinGeckoProvider) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if _, err := p.limiter.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
