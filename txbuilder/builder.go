// Package txbuilder implements the stellarswap.TransactionBuilder capability.
//
// The quote-based path delegates envelope construction to the aggregator's
// build endpoint and verifies the result; the direct path and trustline
// envelopes are built locally with stellar/go txnbuild. Every build loads the
// account sequence fresh through the AccountReader — a cached sequence is
// never reused, which keeps sequence-conflict risk to the window between load
// and submission.
package txbuilder

import (
	"context"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/txnbuild"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// AggregatorAPI is the slice of the aggregator client the builder consumes.
type AggregatorAPI interface {
	BuildSwap(ctx context.Context, quote *stellarswap.Quote, account string, sequence int64) (string, error)
}

const defaultEnvelopeTimeout = 5 * time.Minute

// Builder builds unsigned envelopes for swaps, direct payments, and
// trustlines.
type Builder struct {
	accounts        stellarswap.AccountReader
	agg             AggregatorAPI
	baseFee         int64
	envelopeTimeout time.Duration
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithAggregator enables the quote-based build path.
func WithAggregator(api AggregatorAPI) BuilderOption {
	return func(b *Builder) {
		b.agg = api
	}
}

// WithBaseFee sets the per-operation base fee in stroops for locally built
// envelopes (default: txnbuild.MinBaseFee).
func WithBaseFee(fee int64) BuilderOption {
	return func(b *Builder) {
		b.baseFee = fee
	}
}

// WithEnvelopeTimeout sets the validity window of locally built envelopes
// (default: 5m).
func WithEnvelopeTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		b.envelopeTimeout = d
	}
}

// NewBuilder creates a Builder reading account state through the given
// AccountReader.
func NewBuilder(accounts stellarswap.AccountReader, opts ...BuilderOption) *Builder {
	builder := &Builder{
		accounts:        accounts,
		baseFee:         txnbuild.MinBaseFee,
		envelopeTimeout: defaultEnvelopeTimeout,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder
}

// BuildUnsigned builds the envelope for a trade. A non-nil quote selects the
// aggregator path; nil selects the direct payment path. An intent whose sell
// and buy assets are identical short-circuits to a deterministic local
// envelope and never reaches the provider, which is known to reject
// zero-effect swaps.
func (b *Builder) BuildUnsigned(ctx context.Context, intent stellarswap.TradeIntent, quote *stellarswap.Quote) (*stellarswap.UnsignedEnvelope, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	if intent.SellAsset.Equal(intent.BuyAsset) {
		return b.buildSelfTransfer(ctx, intent)
	}

	if quote == nil {
		return b.buildDirectPayment(ctx, intent)
	}

	if quote.Expired(time.Now()) {
		return nil, errors.NewBuildError(errors.VALIDATION_REJECTED, "quote has expired, re-fetch before building", nil)
	}
	if b.agg == nil {
		return nil, errors.NewBuildError(errors.VALIDATION_REJECTED, "no aggregator configured for the swap path", nil)
	}

	acc, err := b.loadAccount(ctx, intent.Account)
	if err != nil {
		return nil, err
	}

	xdr, err := b.agg.BuildSwap(ctx, quote, acc.ID, acc.Sequence)
	if err != nil {
		return nil, err
	}

	return b.verifyProviderEnvelope(xdr, acc)
}

// BuildTrustline builds a ChangeTrust envelope establishing a trustline from
// account to the asset's issuer.
func (b *Builder) BuildTrustline(ctx context.Context, account string, asset stellarswap.Asset) (*stellarswap.UnsignedEnvelope, error) {
	if asset.IsNative() {
		return nil, errors.NewBuildError(errors.VALIDATION_REJECTED, "the native asset needs no trustline", nil)
	}

	acc, err := b.loadAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	op := &txnbuild.ChangeTrust{
		Line: txnbuild.ChangeTrustAssetWrapper{
			Asset: txnbuild.CreditAsset{Code: asset.Code, Issuer: asset.Issuer},
		},
		Limit: txnbuild.MaxTrustlineLimit,
	}

	return b.buildLocal(acc, op, txnbuild.NewTimeout(int64(b.envelopeTimeout.Seconds())), nil)
}

// buildDirectPayment is the quote-less path: a simple payment built locally
// from account state.
func (b *Builder) buildDirectPayment(ctx context.Context, intent stellarswap.TradeIntent) (*stellarswap.UnsignedEnvelope, error) {
	if intent.Destination == "" {
		return nil, errors.NewBuildError(errors.VALIDATION_REJECTED, "the direct path requires a destination account", nil)
	}

	acc, err := b.loadAccount(ctx, intent.Account)
	if err != nil {
		return nil, err
	}

	op := &txnbuild.Payment{
		Destination: intent.Destination,
		Amount:      amount.StringFromInt64(intent.Amount),
		Asset:       toTxnbuildAsset(intent.SellAsset),
	}

	return b.buildLocal(acc, op, txnbuild.NewTimeout(int64(b.envelopeTimeout.Seconds())), nil)
}

// buildSelfTransfer is the identical-asset short-circuit: a payment to self
// with infinite timebounds, so the envelope is fully determined by the
// account's sequence number.
func (b *Builder) buildSelfTransfer(ctx context.Context, intent stellarswap.TradeIntent) (*stellarswap.UnsignedEnvelope, error) {
	acc, err := b.loadAccount(ctx, intent.Account)
	if err != nil {
		return nil, err
	}

	op := &txnbuild.Payment{
		Destination: acc.ID,
		Amount:      amount.StringFromInt64(intent.Amount),
		Asset:       toTxnbuildAsset(intent.SellAsset),
	}

	memo := txnbuild.MemoText("noop swap")
	return b.buildLocal(acc, op, txnbuild.NewInfiniteTimeout(), memo)
}

func (b *Builder) buildLocal(acc *stellarswap.AccountInfo, op txnbuild.Operation, bounds txnbuild.TimeBounds, memo txnbuild.Memo) (*stellarswap.UnsignedEnvelope, error) {
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: acc.ID, Sequence: acc.Sequence},
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              b.baseFee,
		Memo:                 memo,
		Preconditions:        txnbuild.Preconditions{TimeBounds: bounds},
	})
	if err != nil {
		return nil, errors.NewBuildError(errors.UNKNOWN, "failed to build transaction", err)
	}

	xdr, err := tx.Base64()
	if err != nil {
		return nil, errors.NewBuildError(errors.UNKNOWN, "failed to serialize transaction", err)
	}

	return &stellarswap.UnsignedEnvelope{
		XDR:      xdr,
		Source:   acc.ID,
		Sequence: acc.Sequence + 1,
		Fee:      tx.MaxFee(),
		MaxTime:  bounds.MaxTime,
	}, nil
}

// verifyProviderEnvelope parses the aggregator-built XDR and checks it is
// addressed to the freshly loaded account and sequence. A provider envelope
// for the wrong account or a reused sequence must never reach the signer.
func (b *Builder) verifyProviderEnvelope(xdr string, acc *stellarswap.AccountInfo) (*stellarswap.UnsignedEnvelope, error) {
	parsed, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return nil, errors.NewBuildError(errors.UNKNOWN, "provider returned unparseable envelope", err)
	}
	tx, ok := parsed.Transaction()
	if !ok {
		return nil, errors.NewBuildError(errors.UNKNOWN, "provider returned a fee-bump envelope", nil)
	}

	src := tx.SourceAccount()
	if src.AccountID != acc.ID {
		return nil, errors.NewBuildError(errors.UNKNOWN, "provider envelope is for a different account", nil).
			WithContext("envelope_account", src.AccountID)
	}
	if src.Sequence != acc.Sequence+1 {
		return nil, errors.NewBuildError(errors.UNKNOWN, "provider envelope does not consume the current sequence", nil).
			WithContext("envelope_sequence", src.Sequence)
	}

	return &stellarswap.UnsignedEnvelope{
		XDR:      xdr,
		Source:   acc.ID,
		Sequence: src.Sequence,
		Fee:      tx.MaxFee(),
		MaxTime:  tx.Timebounds().MaxTime,
	}, nil
}

// loadAccount reads the account immediately before a build. An account the
// ledger does not know is ACCOUNT_UNKNOWN, distinct from transport failures.
func (b *Builder) loadAccount(ctx context.Context, accountID string) (*stellarswap.AccountInfo, error) {
	acc, err := b.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.Exists {
		return nil, errors.NewBuildError(errors.ACCOUNT_UNKNOWN, "account does not exist on the ledger: "+accountID, nil)
	}
	return acc, nil
}

func toTxnbuildAsset(a stellarswap.Asset) txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

// Verify that Builder implements stellarswap.TransactionBuilder
var _ stellarswap.TransactionBuilder = (*Builder)(nil)
