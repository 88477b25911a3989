package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

// Direction of a price trend over a lookback window, comparing the
// window's first observed price to its last.
type Direction string

const (
	DirectionRising  Direction = "RISING"
	DirectionFalling Direction = "FALLING"
	DirectionStable  Direction = "STABLE"
)

// Trend summarises a lookback window. Zero extrema are the no-data
// sentinel, not real prices; callers must not treat them as quotes.
type Trend struct {
	Direction Direction
	Lowest    decimal.Decimal
	Highest   decimal.Decimal
}

// HistorySource is the slice of the price series store the analyzer reads.
type HistorySource interface {
	ListPricePointsSince(ctx context.Context, itemID int64, since time.Time) ([]storage.PricePoint, error)
}

// Analyzer computes trend signals from stored price history. It is a pure
// query over the store and the injected clock.
type Analyzer struct {
	history HistorySource
	now     func() time.Time
}

// NewAnalyzer constructs an Analyzer over a price history source.
func NewAnalyzer(history HistorySource) *Analyzer {
	return &Analyzer{history: history, now: time.Now}
}

// Analyze computes direction and extrema over the trailing windowDays.
func (a *Analyzer) Analyze(ctx context.Context, itemID int64, windowDays int) (Trend, error) {
	points, err := a.window(ctx, itemID, windowDays)
	if err != nil {
		return Trend{}, err
	}
	if len(points) == 0 {
		return Trend{Direction: DirectionStable, Lowest: decimal.Zero, Highest: decimal.Zero}, nil
	}

	lowest := points[0].Price
	highest := points[0].Price
	for _, p := range points[1:] {
		if p.Price.LessThan(lowest) {
			lowest = p.Price
		}
		if p.Price.GreaterThan(highest) {
			highest = p.Price
		}
	}

	first := points[0].Price
	last := points[len(points)-1].Price
	return Trend{Direction: direction(first, last), Lowest: lowest, Highest: highest}, nil
}

// AveragePrice returns the mean price over the window rounded half-up to
// two places. An empty window yields the item's current price, which keeps
// "no history" distinguishable from "price equals the average".
func (a *Analyzer) AveragePrice(ctx context.Context, item storage.Item, windowDays int) (decimal.Decimal, error) {
	points, err := a.window(ctx, item.ID, windowDays)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(points) == 0 {
		return item.CurrentPrice, nil
	}

	sum := decimal.Zero
	for _, p := range points {
		sum = sum.Add(p.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(points)))).Round(2), nil
}

func (a *Analyzer) window(ctx context.Context, itemID int64, windowDays int) ([]storage.PricePoint, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("window days must be at least 1, got %d", windowDays)
	}
	since := a.now().UTC().AddDate(0, 0, -windowDays)
	return a.history.ListPricePointsSince(ctx, itemID, since)
}

func direction(first, last decimal.Decimal) Direction {
	switch last.Cmp(first) {
	case 1:
		return DirectionRising
	case -1:
		return DirectionFalling
	default:
		return DirectionStable
	}
}
