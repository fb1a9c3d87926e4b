package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewSubmitError(SEQUENCE_CONFLICT, "sequence already consumed", nil)
	assert.Equal(t, "[submit] SEQUENCE_CONFLICT: sequence already consumed", err.Error())

	cause := fmt.Errorf("tx_bad_seq")
	wrapped := NewSubmitError(SEQUENCE_CONFLICT, "sequence already consumed", cause)
	assert.Contains(t, wrapped.Error(), "caused by: tx_bad_seq")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewCoreError(NETWORK_UNREACHABLE, "request failed", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsMatchesByCode(t *testing.T) {
	a := NewQuoteError(RATE_LIMITED, "provider rate limit", nil)
	b := NewSwapError(RATE_LIMITED, "different layer, same code", nil)
	c := NewQuoteError(UNKNOWN, "something else", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestAs(t *testing.T) {
	var serr *SwapError

	require.True(t, As(NewBuildError(ACCOUNT_UNKNOWN, "no such account", nil), &serr))
	assert.Equal(t, ACCOUNT_UNKNOWN, serr.Code)
	assert.Equal(t, "build", serr.Layer)

	assert.False(t, As(fmt.Errorf("plain error"), &serr))
	assert.False(t, As(nil, &serr))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, TRUSTLINE_REQUIRED, CodeOf(NewBuildError(TRUSTLINE_REQUIRED, "op_no_trust", nil)))
	assert.Equal(t, UNKNOWN, CodeOf(fmt.Errorf("not a swap error")))
}

func TestWithContext(t *testing.T) {
	err := NewQuoteError(TRUSTLINE_REQUIRED, "missing trustline", nil).
		WithContext("asset_code", "USDC").
		WithContext("asset_issuer", "GBBD...")

	assert.Equal(t, "USDC", err.Context["asset_code"])
	assert.Equal(t, "GBBD...", err.Context["asset_issuer"])
}
