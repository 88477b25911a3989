package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-notifier/internal/storage"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name       string
		points     []storage.PricePoint
		current    string
		wantSignal Signal
		wantReason string
	}{
		{
			name:       "thirty day low wins over dip rule",
			points:     []storage.PricePoint{point(25, "50"), point(6, "120"), point(1, "60")},
			current:    "50",
			wantSignal: SignalStrongBuy,
			wantReason: "current price matches 30-day low",
		},
		{
			name:       "current at the long window low",
			points:     []storage.PricePoint{point(20, "100"), point(10, "95"), point(5, "90"), point(2, "92")},
			current:    "90",
			wantSignal: SignalStrongBuy,
			wantReason: "current price matches 30-day low",
		},
		{
			name:       "short dip in long uptrend",
			points:     []storage.PricePoint{point(25, "80"), point(10, "100"), point(5, "110"), point(1, "95")},
			current:    "95",
			wantSignal: SignalBuy,
			wantReason: "short-term dip in long-term upward trend",
		},
		{
			name:       "well below the long average",
			points:     []storage.PricePoint{point(20, "100"), point(5, "100")},
			current:    "85",
			wantSignal: SignalBuy,
			wantReason: "price is 10% below 30-day average",
		},
		{
			name:       "rising in both windows",
			points:     []storage.PricePoint{point(20, "80"), point(5, "90"), point(1, "100")},
			current:    "100",
			wantSignal: SignalWait,
			wantReason: "price trending upward - consider waiting",
		},
		{
			name:       "no signal matches",
			points:     []storage.PricePoint{point(20, "100"), point(5, "90")},
			current:    "92",
			wantSignal: SignalHold,
			wantReason: "no clear buy signal",
		},
		{
			name:       "no history never reads the zero sentinel as a low",
			points:     nil,
			current:    "42",
			wantSignal: SignalHold,
			wantReason: "no clear buy signal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := fixedAnalyzer(&stubHistory{points: tt.points})
			item := storage.Item{ID: 1, Name: "widget", CurrentPrice: dec(tt.current)}

			got, err := NewRecommender(analyzer).Recommend(context.Background(), item)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSignal, got.Signal)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}
