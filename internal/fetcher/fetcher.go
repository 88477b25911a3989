package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFetcher obtains the current price for a marketplace listing URL.
// A zero price means the listing is out of stock. Errors are transient
// (network/parse); the calling sweep retries or skips, never aborts.
type PriceFetcher interface {
	Fetch(ctx context.Context, url string) (decimal.Decimal, error)
}
