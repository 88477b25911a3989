package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-notifier/internal/storage"
)

var decComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

// stubHistory serves a fixed series, filtered by the since cutoff the
// analyzer computes.
type stubHistory struct {
	points []storage.PricePoint
	err    error
}

func (s *stubHistory) ListPricePointsSince(_ context.Context, _ int64, since time.Time) ([]storage.PricePoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []storage.PricePoint
	for _, p := range s.points {
		if !p.RecordedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var analyzeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func point(daysAgo int, price string) storage.PricePoint {
	return storage.PricePoint{ItemID: 1, Price: dec(price), RecordedAt: analyzeNow.AddDate(0, 0, -daysAgo)}
}

func fixedAnalyzer(history HistorySource) *Analyzer {
	a := NewAnalyzer(history)
	a.now = func() time.Time { return analyzeNow }
	return a
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name   string
		points []storage.PricePoint
		want   Trend
	}{
		{
			name:   "empty window is the stable sentinel",
			points: nil,
			want:   Trend{Direction: DirectionStable, Lowest: decimal.Zero, Highest: decimal.Zero},
		},
		{
			name:   "single point is stable with matching extrema",
			points: []storage.PricePoint{point(3, "42.50")},
			want:   Trend{Direction: DirectionStable, Lowest: dec("42.50"), Highest: dec("42.50")},
		},
		{
			name:   "falling series",
			points: []storage.PricePoint{point(6, "100"), point(4, "110"), point(1, "90")},
			want:   Trend{Direction: DirectionFalling, Lowest: dec("90"), Highest: dec("110")},
		},
		{
			name:   "rising series",
			points: []storage.PricePoint{point(6, "80"), point(4, "70"), point(1, "95")},
			want:   Trend{Direction: DirectionRising, Lowest: dec("70"), Highest: dec("95")},
		},
		{
			name:   "flat endpoints are stable despite swings",
			points: []storage.PricePoint{point(6, "100"), point(3, "60"), point(1, "100")},
			want:   Trend{Direction: DirectionStable, Lowest: dec("60"), Highest: dec("100")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := fixedAnalyzer(&stubHistory{points: tt.points})

			got, err := a.Analyze(context.Background(), 1, 7)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, decComparer); diff != "" {
				t.Errorf("trend mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzeWindowExcludesOlderPoints(t *testing.T) {
	a := fixedAnalyzer(&stubHistory{points: []storage.PricePoint{
		point(20, "10"),
		point(5, "100"),
		point(1, "95"),
	}})

	got, err := a.Analyze(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.True(t, got.Lowest.Equal(dec("95")), "lowest should ignore the point outside the window, got %s", got.Lowest)
	assert.Equal(t, DirectionFalling, got.Direction)
}

func TestAnalyzeIsRepeatable(t *testing.T) {
	a := fixedAnalyzer(&stubHistory{points: []storage.PricePoint{point(5, "100"), point(1, "90")}})

	first, err := a.Analyze(context.Background(), 1, 7)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), 1, 7)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second, decComparer); diff != "" {
		t.Errorf("repeated analysis diverged (-first +second):\n%s", diff)
	}
}

func TestAnalyzeRejectsBadWindow(t *testing.T) {
	a := fixedAnalyzer(&stubHistory{})

	_, err := a.Analyze(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestAnalyzePropagatesStoreError(t *testing.T) {
	a := fixedAnalyzer(&stubHistory{err: errors.New("db down")})

	_, err := a.Analyze(context.Background(), 1, 7)
	assert.Error(t, err)
}

func TestAveragePrice(t *testing.T) {
	item := storage.Item{ID: 1, CurrentPrice: dec("55.00")}

	t.Run("mean rounded to two places", func(t *testing.T) {
		a := fixedAnalyzer(&stubHistory{points: []storage.PricePoint{
			point(5, "10"), point(3, "10"), point(1, "11"),
		}})

		avg, err := a.AveragePrice(context.Background(), item, 7)
		require.NoError(t, err)
		assert.True(t, avg.Equal(dec("10.33")), "got %s", avg)
	})

	t.Run("empty window falls back to current price", func(t *testing.T) {
		a := fixedAnalyzer(&stubHistory{})

		avg, err := a.AveragePrice(context.Background(), item, 7)
		require.NoError(t, err)
		assert.True(t, avg.Equal(dec("55.00")), "got %s", avg)
	})
}
