package analysis

import (
	"context"

	"github.com/shopspring/decimal"

	"price-notifier/internal/storage"
)

// Signal is the buy recommendation outcome. AVOID is reserved for a future
// rule; the current cascade never produces it.
type Signal string

const (
	SignalStrongBuy Signal = "STRONG_BUY"
	SignalBuy       Signal = "BUY"
	SignalHold      Signal = "HOLD"
	SignalWait      Signal = "WAIT"
	SignalAvoid     Signal = "AVOID"
)

// Recommendation pairs a buy signal with its justification.
type Recommendation struct {
	Signal Signal
	Reason string
}

const (
	shortWindowDays = 7
	longWindowDays  = 30
)

var ninetyPercent = decimal.New(9, -1)

// Recommender combines short- and long-window trend signals into an
// actionable buy/wait call. Pure query, no side effects.
type Recommender struct {
	analyzer *Analyzer
}

// NewRecommender constructs a Recommender over a trend analyzer.
func NewRecommender(analyzer *Analyzer) *Recommender {
	return &Recommender{analyzer: analyzer}
}

// Recommend walks an ordered rule cascade; the first match wins, so rule
// order is part of the contract.
func (r *Recommender) Recommend(ctx context.Context, item storage.Item) (Recommendation, error) {
	long, err := r.analyzer.Analyze(ctx, item.ID, longWindowDays)
	if err != nil {
		return Recommendation{}, err
	}
	short, err := r.analyzer.Analyze(ctx, item.ID, shortWindowDays)
	if err != nil {
		return Recommendation{}, err
	}
	average, err := r.analyzer.AveragePrice(ctx, item, longWindowDays)
	if err != nil {
		return Recommendation{}, err
	}

	current := item.CurrentPrice

	// A zero lowest is the no-data sentinel, not a quotable price.
	if !long.Lowest.IsZero() && current.Equal(long.Lowest) {
		return Recommendation{Signal: SignalStrongBuy, Reason: "current price matches 30-day low"}, nil
	}

	if short.Direction == DirectionFalling && long.Direction == DirectionRising {
		return Recommendation{Signal: SignalBuy, Reason: "short-term dip in long-term upward trend"}, nil
	}

	if current.LessThanOrEqual(average.Mul(ninetyPercent)) {
		return Recommendation{Signal: SignalBuy, Reason: "price is 10% below 30-day average"}, nil
	}

	if short.Direction == DirectionRising && long.Direction == DirectionRising {
		return Recommendation{Signal: SignalWait, Reason: "price trending upward - consider waiting"}, nil
	}

	return Recommendation{Signal: SignalHold, Reason: "no clear buy signal"}, nil
}
