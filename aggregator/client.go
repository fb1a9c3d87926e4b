// Package aggregator implements the quote fetcher and the quote-based build
// path against a DEX aggregator's HTTP API.
//
// The aggregator is treated as a black-box quote provider: this client's only
// jobs are normalizing responses into stellarswap types and classifying raw
// HTTP failures into the errors package taxonomy at the boundary. Retry
// decisions belong to the orchestrator, so the underlying HTTP client does
// not retry.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/core/net"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// defaultQuoteTTL is used when the provider does not declare a validity
// window. Kept under a minute; quotes are price-sensitive.
const defaultQuoteTTL = 45 * time.Second

// Client talks to a DEX aggregator's quote and build endpoints.
type Client struct {
	baseURL    string
	httpClient *net.Client
	quoteTTL   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client for network requests.
func WithHTTPClient(client *net.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithQuoteTTL overrides the validity window applied to quotes from providers
// that do not declare one.
func WithQuoteTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.quoteTTL = d
	}
}

// NewClient creates an aggregator client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	client := &Client{
		baseURL:    baseURL,
		httpClient: net.NewClient(),
		quoteTTL:   defaultQuoteTTL,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

type quoteRequest struct {
	AssetIn     string `json:"asset_in"`
	AssetOut    string `json:"asset_out"`
	Amount      int64  `json:"amount,string"`
	TradeType   string `json:"trade_type"`
	SlippageBps int    `json:"slippage_bps"`
}

type quoteResponse struct {
	AmountIn   int64           `json:"amount_in,string"`
	AmountOut  int64           `json:"amount_out,string"`
	ExpiresInS int             `json:"expires_in,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type buildRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Account  string          `json:"account"`
	Sequence int64           `json:"sequence,string"`
}

type buildResponse struct {
	XDR string `json:"xdr"`
}

// errorResponse is the provider's error body. Code is provider-specific and
// is mapped into the taxonomy here; it never leaks past this package.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Asset struct {
		Code   string `json:"code"`
		Issuer string `json:"issuer"`
	} `json:"asset"`
}

// FetchQuote requests a priced proposal for the intent's exchange.
// The returned quote's output amount is an estimate for display; the provider
// may reprice at build time.
func (c *Client) FetchQuote(ctx context.Context, intent stellarswap.TradeIntent) (*stellarswap.Quote, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	tradeType := intent.TradeType
	if tradeType == "" {
		tradeType = stellarswap.TradeTypeExactIn
	}

	body, err := json.Marshal(quoteRequest{
		AssetIn:     intent.SellAsset.String(),
		AssetOut:    intent.BuyAsset.String(),
		Amount:      intent.Amount,
		TradeType:   string(tradeType),
		SlippageBps: intent.SlippageBps,
	})
	if err != nil {
		return nil, errors.NewQuoteError(errors.UNKNOWN, "failed to encode quote request", err)
	}

	resp, err := c.httpClient.Post(ctx, c.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyError("quote", resp)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, errors.NewQuoteError(errors.UNKNOWN, "malformed quote response", err)
	}
	if qr.AmountOut <= 0 || len(qr.Payload) == 0 {
		return nil, errors.NewQuoteError(errors.UNKNOWN, "quote response missing amount or payload", nil)
	}

	ttl := c.quoteTTL
	if qr.ExpiresInS > 0 {
		ttl = time.Duration(qr.ExpiresInS) * time.Second
	}

	return &stellarswap.Quote{
		SellAsset:   intent.SellAsset,
		BuyAsset:    intent.BuyAsset,
		AmountIn:    qr.AmountIn,
		AmountOut:   qr.AmountOut,
		TradeType:   tradeType,
		SlippageBps: intent.SlippageBps,
		Payload:     qr.Payload,
		FetchedAt:   time.Now(),
		TTL:         ttl,
	}, nil
}

// BuildSwap asks the provider to build the unsigned transaction for a quote,
// pinned to the given account and freshly loaded sequence number. Returns the
// base64 envelope XDR.
func (c *Client) BuildSwap(ctx context.Context, quote *stellarswap.Quote, account string, sequence int64) (string, error) {
	body, err := json.Marshal(buildRequest{
		Payload:  quote.Payload,
		Account:  account,
		Sequence: sequence,
	})
	if err != nil {
		return "", errors.NewBuildError(errors.UNKNOWN, "failed to encode build request", err)
	}

	resp, err := c.httpClient.Post(ctx, c.baseURL+"/quote/build", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyError("build", resp)
	}

	var br buildResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return "", errors.NewBuildError(errors.UNKNOWN, "malformed build response", err)
	}
	if br.XDR == "" {
		return "", errors.NewBuildError(errors.UNKNOWN, "build response missing envelope", nil)
	}

	return br.XDR, nil
}

// classifyError maps a non-200 provider response into the taxonomy. Unknown
// and unparseable failures map to UNKNOWN rather than being swallowed.
func (c *Client) classifyError(layer string, resp *net.Response) error {
	newErr := errors.NewQuoteError
	if layer == "build" {
		newErr = errors.NewBuildError
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return newErr(errors.RATE_LIMITED, "provider rate limit", nil)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Code == "" {
		return newErr(errors.UNKNOWN,
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil).
			WithContext("body", string(raw))
	}

	switch er.Code {
	case "trustline_required", "no_trustline":
		serr := newErr(errors.TRUSTLINE_REQUIRED, "destination account lacks a trustline for the output asset", nil)
		serr.WithContext("asset_code", er.Asset.Code)
		serr.WithContext("asset_issuer", er.Asset.Issuer)
		return serr
	case "account_not_found":
		return newErr(errors.ACCOUNT_UNKNOWN, "provider does not know the source account", nil)
	case "quote_expired", "stale_quote":
		// A stale quote is a rejection of this build, not of the trade.
		return newErr(errors.VALIDATION_REJECTED, "provider rejected a stale quote", nil).
			WithContext("provider_code", er.Code)
	default:
		return newErr(errors.VALIDATION_REJECTED, "provider rejected the request", nil).
			WithContext("provider_code", er.Code).
			WithContext("provider_error", er.Error)
	}
}

// Verify that Client implements stellarswap.QuoteFetcher
var _ stellarswap.QuoteFetcher = (*Client)(nil)
