package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stellar-connect/swap-sdk-go/core/net"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// HTTPProvider fetches prices from a JSON price endpoint:
// GET {base}/prices?symbols=XLM,USDC
//
// Price endpoints are read-only and idempotent, so the underlying client is
// allowed a transport-level retry.
type HTTPProvider struct {
	name       string
	baseURL    string
	currency   string
	httpClient *net.Client
}

// ProviderOption configures an HTTPProvider.
type ProviderOption func(*HTTPProvider)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *net.Client) ProviderOption {
	return func(p *HTTPProvider) {
		p.httpClient = client
	}
}

// WithCurrency sets the quote currency requested from the endpoint
// (default: USD).
func WithCurrency(currency string) ProviderOption {
	return func(p *HTTPProvider) {
		p.currency = currency
	}
}

// NewHTTPProvider creates a price provider for the given endpoint.
func NewHTTPProvider(name, baseURL string, opts ...ProviderOption) *HTTPProvider {
	provider := &HTTPProvider{
		name:     name,
		baseURL:  baseURL,
		currency: "USD",
		httpClient: net.NewClient(
			net.WithTimeout(10*time.Second),
			net.WithMaxRetries(1),
		),
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// Name returns the provider's name.
func (p *HTTPProvider) Name() string {
	return p.name
}

type priceResponse struct {
	Prices []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	} `json:"prices"`
}

// Fetch returns display prices for the given symbols.
func (p *HTTPProvider) Fetch(ctx context.Context, symbols []string) ([]PriceQuote, error) {
	endpoint := fmt.Sprintf("%s/prices?symbols=%s&currency=%s",
		p.baseURL,
		url.QueryEscape(strings.Join(symbols, ",")),
		url.QueryEscape(p.currency),
	)

	resp, err := p.httpClient.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewCoreError(errors.UNKNOWN,
			fmt.Sprintf("price endpoint returned status %d", resp.StatusCode), nil)
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, errors.NewCoreError(errors.UNKNOWN, "malformed price response", err)
	}

	now := time.Now()
	quotes := make([]PriceQuote, 0, len(pr.Prices))
	for _, entry := range pr.Prices {
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, errors.NewCoreError(errors.UNKNOWN, "malformed price for "+entry.Symbol, err)
		}
		quotes = append(quotes, PriceQuote{
			Symbol:     entry.Symbol,
			Price:      price,
			Currency:   p.currency,
			Source:     p.name,
			ReceivedAt: now,
		})
	}

	return quotes, nil
}

// Verify that HTTPProvider implements Provider
var _ Provider = (*HTTPProvider)(nil)
