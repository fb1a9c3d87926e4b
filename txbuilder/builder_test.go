package txbuilder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

type stubAccounts struct {
	calls    int
	account  string
	sequence int64
	exists   bool
	err      error
	// fresh makes each load return the next sequence, simulating ledger
	// progress between builds.
	fresh bool
}

func (s *stubAccounts) GetAccount(ctx context.Context, accountID string) (*stellarswap.AccountInfo, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	seq := s.sequence
	if s.fresh {
		seq += int64(s.calls - 1)
	}
	return &stellarswap.AccountInfo{ID: s.account, Sequence: seq, Exists: s.exists}, nil
}

type stubAggregator struct {
	calls int
	xdr   string
	err   error
}

func (s *stubAggregator) BuildSwap(ctx context.Context, quote *stellarswap.Quote, account string, sequence int64) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.xdr, nil
}

func freshQuote() *stellarswap.Quote {
	return &stellarswap.Quote{
		Payload:   json.RawMessage(`{"route":"r1"}`),
		FetchedAt: time.Now(),
		TTL:       time.Minute,
	}
}

func intentFor(account string, sell, buy stellarswap.Asset) stellarswap.TradeIntent {
	return stellarswap.TradeIntent{
		Account:   account,
		SellAsset: sell,
		BuyAsset:  buy,
		Amount:    10_0000000,
		TradeType: stellarswap.TradeTypeExactIn,
	}
}

// providerEnvelope builds what a well-behaved aggregator would return: an
// envelope for the given account consuming sequence+1.
func providerEnvelope(t *testing.T, account string, sequence int64, destination string) string {
	t.Helper()
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: account, Sequence: sequence},
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: destination,
			Amount:      "10",
			Asset:       txnbuild.NativeAsset{},
		}},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
	})
	require.NoError(t, err)
	xdr, err := tx.Base64()
	require.NoError(t, err)
	return xdr
}

func TestBuildUnsignedSwapPath(t *testing.T) {
	account := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	agg := &stubAggregator{xdr: providerEnvelope(t, account, 42, account)}
	builder := NewBuilder(accounts, WithAggregator(agg))

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: issuer})
	env, err := builder.BuildUnsigned(context.Background(), intent, freshQuote())
	require.NoError(t, err)

	assert.Equal(t, account, env.Source)
	assert.Equal(t, int64(43), env.Sequence)
	assert.Equal(t, 1, accounts.calls, "sequence loaded fresh for the build")
	assert.Equal(t, 1, agg.calls)
}

func TestBuildUnsignedRejectsExpiredQuote(t *testing.T) {
	account := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	agg := &stubAggregator{}
	builder := NewBuilder(accounts, WithAggregator(agg))

	quote := freshQuote()
	quote.FetchedAt = time.Now().Add(-2 * time.Minute)

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: issuer})
	_, err := builder.BuildUnsigned(context.Background(), intent, quote)
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_REJECTED, errors.CodeOf(err))
	assert.Equal(t, 0, agg.calls, "expired quote never reaches the provider")
}

func TestBuildUnsignedRejectsWrongSequenceEnvelope(t *testing.T) {
	account := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	// Provider envelope consumes sequence 50 instead of 43.
	agg := &stubAggregator{xdr: providerEnvelope(t, account, 49, account)}
	builder := NewBuilder(accounts, WithAggregator(agg))

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: issuer})
	_, err := builder.BuildUnsigned(context.Background(), intent, freshQuote())
	require.Error(t, err)
	assert.Equal(t, errors.UNKNOWN, errors.CodeOf(err))
}

func TestBuildUnsignedRejectsWrongAccountEnvelope(t *testing.T) {
	account := keypair.MustRandom().Address()
	other := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	agg := &stubAggregator{xdr: providerEnvelope(t, other, 42, other)}
	builder := NewBuilder(accounts, WithAggregator(agg))

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: issuer})
	_, err := builder.BuildUnsigned(context.Background(), intent, freshQuote())
	require.Error(t, err)
	assert.Equal(t, errors.UNKNOWN, errors.CodeOf(err))
}

func TestBuildUnsignedIdenticalAssetsShortCircuit(t *testing.T) {
	account := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	agg := &stubAggregator{}
	builder := NewBuilder(accounts, WithAggregator(agg))

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.NativeAsset())

	first, err := builder.BuildUnsigned(context.Background(), intent, freshQuote())
	require.NoError(t, err)
	second, err := builder.BuildUnsigned(context.Background(), intent, freshQuote())
	require.NoError(t, err)

	// Same account state yields a byte-identical envelope, and the provider
	// is never consulted.
	assert.Equal(t, first.XDR, second.XDR)
	assert.Equal(t, int64(43), first.Sequence)
	assert.Equal(t, 0, agg.calls)

	parsed, err := txnbuild.TransactionFromXDR(first.XDR)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, account, payment.Destination)
}

func TestBuildUnsignedFreshSequencePerBuild(t *testing.T) {
	account := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true, fresh: true}
	builder := NewBuilder(accounts)

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.NativeAsset())

	first, err := builder.BuildUnsigned(context.Background(), intent, nil)
	require.NoError(t, err)
	second, err := builder.BuildUnsigned(context.Background(), intent, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(43), first.Sequence)
	assert.Equal(t, int64(44), second.Sequence)
	assert.NotEqual(t, first.XDR, second.XDR)
}

func TestBuildUnsignedDirectPath(t *testing.T) {
	account := keypair.MustRandom().Address()
	destination := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	builder := NewBuilder(accounts)

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: destination})
	intent.Destination = destination

	env, err := builder.BuildUnsigned(context.Background(), intent, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(43), env.Sequence)
	assert.NotZero(t, env.MaxTime, "direct payments carry a validity window")

	parsed, err := txnbuild.TransactionFromXDR(env.XDR)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, destination, payment.Destination)
}

func TestBuildUnsignedDirectPathRequiresDestination(t *testing.T) {
	account := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	builder := NewBuilder(accounts)

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.Asset{Code: "USDC", Issuer: issuer})
	_, err := builder.BuildUnsigned(context.Background(), intent, nil)
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_REJECTED, errors.CodeOf(err))
}

func TestBuildUnsignedAccountUnknown(t *testing.T) {
	account := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 0, exists: false}
	builder := NewBuilder(accounts)

	intent := intentFor(account, stellarswap.NativeAsset(), stellarswap.NativeAsset())
	_, err := builder.BuildUnsigned(context.Background(), intent, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ACCOUNT_UNKNOWN, errors.CodeOf(err))
}

func TestBuildTrustline(t *testing.T) {
	account := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	builder := NewBuilder(accounts)

	env, err := builder.BuildTrustline(context.Background(), account, stellarswap.Asset{Code: "USDC", Issuer: issuer})
	require.NoError(t, err)
	assert.Equal(t, int64(43), env.Sequence)

	parsed, err := txnbuild.TransactionFromXDR(env.XDR)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	ct, ok := tx.Operations()[0].(*txnbuild.ChangeTrust)
	require.True(t, ok)
	assert.Equal(t, txnbuild.MaxTrustlineLimit, ct.Limit)
}

func TestBuildTrustlineRejectsNativeAsset(t *testing.T) {
	account := keypair.MustRandom().Address()
	accounts := &stubAccounts{account: account, sequence: 42, exists: true}
	builder := NewBuilder(accounts)

	_, err := builder.BuildTrustline(context.Background(), account, stellarswap.NativeAsset())
	require.Error(t, err)
	assert.Equal(t, errors.VALIDATION_REJECTED, errors.CodeOf(err))
	assert.Equal(t, 0, accounts.calls)
}
