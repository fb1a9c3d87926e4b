// Package oracle provides informational price discovery, independent of the
// quote-for-swap flow. Prices from this package are for display only and play
// no part in the orchestrator's correctness; settlement amounts always come
// from the aggregator quote in stroops.
package oracle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is the normalized shape returned by all providers.
type PriceQuote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Provider fetches display prices for a set of asset symbols.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbols []string) ([]PriceQuote, error)
}
