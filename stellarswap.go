// Package stellarswap provides a Go SDK for orchestrating multi-step swap and
// trade workflows on Stellar. It sequences quote fetching, trustline creation,
// transaction building, external signing, and submission against an unreliable
// upstream aggregator, while delegating key signing, persistence, and the
// trading venue itself to the developer.
package stellarswap

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stellar-connect/swap-sdk-go/errors"
)

// Signer is the minimal contract for authorizing transactions.
// The SDK does not manage keys, wallet connections, or signing infrastructure.
// The caller provides a Signer; the SDK uses it. The Signer must not mutate
// the sequence number or operations of the envelope it signs.
type Signer interface {
	// PublicKey returns the Stellar address (G...) identifying this signer.
	PublicKey() string

	// SignTransaction signs a Stellar transaction envelope (base64 XDR).
	// The networkPassphrase is required for computing the correct transaction hash.
	// Returns the signed envelope as base64 XDR.
	SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error)
}

// QuoteFetcher requests a priced proposal for an intended asset exchange from
// an external aggregator. Implementations classify upstream failures into the
// errors package taxonomy at the boundary; raw HTTP statuses never escape.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, intent TradeIntent) (*Quote, error)
}

// TransactionBuilder turns a quote (or a direct operation request) into an
// unsigned transaction envelope addressed to the correct network. It must load
// the current account sequence immediately before every build; a cached
// sequence is never reused across calls.
type TransactionBuilder interface {
	// BuildUnsigned builds the envelope for a trade. A nil quote selects the
	// direct path (simple payment built locally from account state); a non-nil
	// quote selects the aggregator build path.
	BuildUnsigned(ctx context.Context, intent TradeIntent, quote *Quote) (*UnsignedEnvelope, error)

	// BuildTrustline builds a ChangeTrust envelope establishing a trustline
	// from account to the given asset's issuer.
	BuildTrustline(ctx context.Context, account string, asset Asset) (*UnsignedEnvelope, error)
}

// SubmissionClient broadcasts a signed envelope to the ledger exactly once per
// call and classifies the outcome. It never retries internally; retries are an
// orchestrator decision.
type SubmissionClient interface {
	Submit(ctx context.Context, envelope SignedEnvelope) (*SubmissionResult, error)
}

// AccountReader loads the on-ledger state the builder needs.
type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (*AccountInfo, error)
}

// AccountInfo is the subset of ledger account state the SDK consumes.
type AccountInfo struct {
	ID       string
	Sequence int64
	Exists   bool
}

// TradeType distinguishes exact-input from exact-output trades.
type TradeType string

const (
	// TradeTypeExactIn fixes the input amount; the output is an estimate.
	TradeTypeExactIn TradeType = "exact_in"

	// TradeTypeExactOut fixes the output amount; the input is an estimate.
	TradeTypeExactOut TradeType = "exact_out"
)

// Asset identifies a Stellar asset. An empty Issuer denotes the native asset.
type Asset struct {
	Code   string
	Issuer string
}

// NativeAsset returns the native lumens asset.
func NativeAsset() Asset {
	return Asset{Code: "XLM"}
}

// IsNative reports whether the asset is native lumens.
func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

// Equal reports whether two assets identify the same ledger asset.
func (a Asset) Equal(b Asset) bool {
	if a.IsNative() && b.IsNative() {
		return true
	}
	return a.Code == b.Code && a.Issuer == b.Issuer
}

// String renders the asset as CODE or CODE:ISSUER.
func (a Asset) String() string {
	if a.IsNative() {
		return a.Code
	}
	return a.Code + ":" + a.Issuer
}

// TradeIntent is the caller's request. It is owned by the caller and read-only
// to the orchestrator.
type TradeIntent struct {
	// Account is the source Stellar account (G...).
	Account string

	// SellAsset and BuyAsset identify the exchange pair.
	SellAsset Asset
	BuyAsset  Asset

	// Amount is the input amount in stroops (smallest indivisible unit).
	// Never a floating point value.
	Amount int64

	// TradeType selects exact-input or exact-output. Defaults to exact-input.
	TradeType TradeType

	// SlippageBps is the slippage tolerance in basis points.
	SlippageBps int

	// Destination is the payment destination for the direct (quote-less)
	// path. Ignored on the swap path.
	Destination string

	// Leverage is optional position metadata for the trading variant.
	// The orchestrator carries it through untouched.
	Leverage int
}

// Validate checks the intent before any network call is made.
func (i TradeIntent) Validate() error {
	if strings.TrimSpace(i.Account) == "" {
		return errors.NewSwapError(errors.VALIDATION_REJECTED, "source account is required", nil)
	}
	if i.Amount <= 0 {
		return errors.NewSwapError(errors.VALIDATION_REJECTED, "input amount must be a positive number of stroops", nil)
	}
	if i.SellAsset.Code == "" || i.BuyAsset.Code == "" {
		return errors.NewSwapError(errors.VALIDATION_REJECTED, "sell and buy assets are required", nil)
	}
	switch i.TradeType {
	case "", TradeTypeExactIn, TradeTypeExactOut:
	default:
		return errors.NewSwapError(errors.VALIDATION_REJECTED, "unknown trade type: "+string(i.TradeType), nil)
	}
	if i.SlippageBps < 0 {
		return errors.NewSwapError(errors.VALIDATION_REJECTED, "slippage must not be negative", nil)
	}
	return nil
}

// DefaultQuoteTTL bounds how long a quote may be used after it was fetched.
// Quotes are price-sensitive; an expired quote is re-fetched, never reused.
const DefaultQuoteTTL = 45 * time.Second

// Quote is a priced proposal for exchanging one asset for another, valid for
// a short window. A Quote is immutable once returned; re-quoting produces a
// new Quote. It is consumed by the builder exactly once.
type Quote struct {
	SellAsset Asset
	BuyAsset  Asset

	// AmountIn and AmountOut are in stroops. AmountOut is an estimate the
	// caller may display but must not trust for final settlement; the
	// provider may reprice at build time.
	AmountIn  int64
	AmountOut int64

	TradeType   TradeType
	SlippageBps int

	// Payload is the opaque provider-specific blob needed to rebuild this
	// exact quote on the provider's build endpoint.
	Payload json.RawMessage

	// FetchedAt and TTL bound the quote's validity window.
	FetchedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the quote has outlived its validity window.
func (q *Quote) Expired(now time.Time) bool {
	ttl := q.TTL
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return now.Sub(q.FetchedAt) > ttl
}

// UnsignedEnvelope is a serialized, not-yet-signed transaction plus the
// metadata the orchestrator needs to enforce its invariants. A sequence
// number is consumed at most once; after a sequence conflict the envelope is
// discarded and rebuilt from a fresh account load, never retried as-is.
type UnsignedEnvelope struct {
	// XDR is the base64 transaction envelope.
	XDR string

	// Source is the source account the envelope was built for.
	Source string

	// Sequence is the sequence number consumed by this envelope.
	Sequence int64

	// Fee is the maximum fee in stroops.
	Fee int64

	// MaxTime is the unix timestamp after which the envelope is invalid.
	// Zero means no time bound.
	MaxTime int64
}

// SignedEnvelope is an UnsignedEnvelope plus signature material, opaque to
// the orchestrator. Once submitted it must never be resubmitted.
type SignedEnvelope struct {
	XDR      string
	Source   string
	Sequence int64
}

// SubmissionResult is the classified outcome of one submission attempt.
// Reason is empty on success and one of the errors package codes otherwise.
type SubmissionResult struct {
	// Hash is the transaction hash, set on success.
	Hash string

	// Ledger is the ledger sequence the transaction was included in.
	Ledger int32

	// Reason classifies a failed attempt. Empty means success.
	Reason errors.Code

	// Detail carries raw provider detail for diagnosis. Never used for
	// branching; the orchestrator branches on Reason only.
	Detail string
}

// Successful reports whether the submission was accepted into a ledger.
func (r *SubmissionResult) Successful() bool {
	return r.Reason == ""
}

// Position is a caller-owned bookkeeping record for a filled trade.
// The orchestrator never writes positions; recording one after a successful
// trade is the caller's responsibility.
type Position struct {
	ID        string
	Account   string
	SellAsset Asset
	BuyAsset  Asset
	AmountIn  int64
	AmountOut int64
	Leverage  int
	TxHash    string
	OpenedAt  time.Time
}

// PositionStore is the persistence interface for position records, keyed by
// account. The developer implements it against their own database; the SDK
// ships an in-memory implementation for examples and tests.
type PositionStore interface {
	// Save persists a new position record.
	Save(ctx context.Context, position *Position) error

	// FindByID retrieves a position by its unique identifier.
	FindByID(ctx context.Context, id string) (*Position, error)

	// FindByAccount returns all positions for a given Stellar account.
	FindByAccount(ctx context.Context, account string) ([]*Position, error)

	// Delete removes a closed position.
	Delete(ctx context.Context, id string) error
}
