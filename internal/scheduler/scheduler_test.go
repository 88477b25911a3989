package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 7, 33, 0, time.UTC)
	next := s.nextTick(now)

	want := time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextTick = %v, want %v", next, want)
	}
	if got := s.sweepStart(next); !got.Equal(want) {
		t.Errorf("sweepStart = %v, want %v", got, want)
	}
}

func TestNextTickOnBoundaryAdvances(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC)
	next := s.nextTick(now)

	want := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextTick = %v, want %v", next, want)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	now := time.Date(2025, 6, 1, 12, 7, 0, 0, time.UTC)
	next := s.nextTick(now)

	if !next.Equal(now.Add(time.Hour)) {
		t.Errorf("nextTick = %v, want %v", next, now.Add(time.Hour))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan struct{}, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			select {
			case ticks <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick delivered")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
