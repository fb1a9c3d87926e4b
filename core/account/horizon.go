// Package account implements the stellarswap.AccountReader capability against
// a Horizon server.
package account

import (
	"context"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// HorizonReader implements stellarswap.AccountReader using a Horizon server.
type HorizonReader struct {
	client horizonclient.ClientInterface
}

// NewHorizonReader creates an AccountReader backed by the given Horizon URL.
func NewHorizonReader(horizonURL string) *HorizonReader {
	return &HorizonReader{
		client: &horizonclient.Client{HorizonURL: horizonURL},
	}
}

// NewHorizonReaderWithClient creates an AccountReader from an existing Horizon
// client. Intended for tests and callers that share one client.
func NewHorizonReaderWithClient(client horizonclient.ClientInterface) *HorizonReader {
	return &HorizonReader{client: client}
}

// GetAccount loads the current sequence number for a Stellar account.
// A missing account is reported with Exists set to false, not an error, so
// the builder can distinguish "not funded yet" from a transport failure.
func (r *HorizonReader) GetAccount(_ context.Context, accountID string) (*stellarswap.AccountInfo, error) {
	acc, err := r.client.AccountDetail(horizonclient.AccountRequest{
		AccountID: accountID,
	})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return &stellarswap.AccountInfo{ID: accountID, Exists: false}, nil
		}
		return nil, errors.NewCoreError(errors.NETWORK_UNREACHABLE, "failed to fetch account "+accountID, err)
	}

	seq, err := acc.GetSequenceNumber()
	if err != nil {
		return nil, errors.NewCoreError(errors.UNKNOWN, "malformed sequence number for account "+accountID, err)
	}

	return &stellarswap.AccountInfo{
		ID:       accountID,
		Sequence: seq,
		Exists:   true,
	}, nil
}

// Verify that HorizonReader implements stellarswap.AccountReader
var _ stellarswap.AccountReader = (*HorizonReader)(nil)
