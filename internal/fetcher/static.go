package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// Static returns a fixed price for every listing. Used by simulations and
// tests.
type Static struct {
	Price decimal.Decimal
}

// Fetch returns the configured price.
func (s *Static) Fetch(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.Price, nil
}

var _ PriceFetcher = (*Static)(nil)
