package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-notifier/internal/alerting"
	"price-notifier/internal/config"
	"price-notifier/internal/storage"
)

// memStore is an in-memory stand-in for the Postgres repository, good
// enough to drive the sweep pipeline end to end.
type memStore struct {
	mu          sync.Mutex
	items       map[int64]storage.Item
	points      map[int64][]storage.PricePoint
	subs        map[int64]storage.Subscription
	alerts      map[int64]storage.Alert
	nextAlertID int64
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[int64]storage.Item),
		points: make(map[int64][]storage.PricePoint),
		subs:   make(map[int64]storage.Subscription),
		alerts: make(map[int64]storage.Alert),
	}
}

func (m *memStore) InsertItem(_ context.Context, item storage.Item) (storage.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return item, nil
}

func (m *memStore) GetItem(_ context.Context, id int64) (storage.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return storage.Item{}, storage.ErrNotFound
	}
	return item, nil
}

func (m *memStore) ListItems(_ context.Context) ([]storage.Item, error) {
	return m.ListActiveItems(context.Background())
}

func (m *memStore) ListActiveItems(_ context.Context) ([]storage.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Item
	for id := int64(1); id <= int64(len(m.items))+10; id++ {
		if item, ok := m.items[id]; ok && item.IsActive {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) UpdateItemPrice(_ context.Context, id int64, price decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.CurrentPrice = price
	item.UpdatedAt = at
	m.items[id] = item
	return nil
}

func (m *memStore) DeactivateItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.IsActive = false
	m.items[id] = item
	return nil
}

func (m *memStore) InsertPricePoint(_ context.Context, point storage.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[point.ItemID] = append(m.points[point.ItemID], point)
	return nil
}

func (m *memStore) ListPricePointsSince(_ context.Context, itemID int64, since time.Time) ([]storage.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.PricePoint
	for _, p := range m.points[itemID] {
		if !p.RecordedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) LatestPricePoint(_ context.Context, itemID int64) (*storage.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := m.points[itemID]
	if len(points) == 0 {
		return nil, nil
	}
	latest := points[len(points)-1]
	return &latest, nil
}

func (m *memStore) InsertSubscription(_ context.Context, sub storage.Subscription) (storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *memStore) GetSubscription(_ context.Context, id int64) (storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (m *memStore) ListActiveSubscriptions(_ context.Context, itemID int64) ([]storage.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Subscription
	for id := int64(1); id <= int64(len(m.subs))+10; id++ {
		if sub, ok := m.subs[id]; ok && sub.IsActive && sub.ItemID == itemID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateSubscription(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.IsActive = false
	m.subs[id] = sub
	return nil
}

func (m *memStore) InsertAlert(_ context.Context, alert storage.Alert) (storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAlertID++
	alert.ID = m.nextAlertID
	m.alerts[alert.ID] = alert
	return alert, nil
}

func (m *memStore) MarkAlertSent(_ context.Context, id int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.Status = storage.AlertStatusSent
	alert.SentAt = &sentAt
	alert.Attempts++
	m.alerts[id] = alert
	return nil
}

func (m *memStore) MarkAlertSuppressed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.Status = storage.AlertStatusSuppressed
	alert.SuppressReason = &reason
	m.alerts[id] = alert
	return nil
}

func (m *memStore) RecordAlertAttempt(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	alert.Attempts++
	m.alerts[id] = alert
	return nil
}

func (m *memStore) ListPendingAlerts(_ context.Context, limit int) ([]storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Alert
	for id := int64(1); id <= m.nextAlertID; id++ {
		if alert, ok := m.alerts[id]; ok && alert.Status == storage.AlertStatusPending {
			out = append(out, alert)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListRecentAlerts(_ context.Context, limit int) ([]storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Alert
	for id := m.nextAlertID; id >= 1 && len(out) < limit; id-- {
		if alert, ok := m.alerts[id]; ok {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (m *memStore) SimilarAlertSentSince(_ context.Context, subscriptionID int64, alertType storage.AlertType, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, alert := range m.alerts {
		if alert.SubscriptionID != subscriptionID || alert.AlertType != alertType {
			continue
		}
		if alert.Status == storage.AlertStatusSent && alert.SentAt != nil && !alert.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CountSentToUserSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, alert := range m.alerts {
		sub, ok := m.subs[alert.SubscriptionID]
		if !ok || sub.UserID != userID {
			continue
		}
		if alert.Status == storage.AlertStatusSent && alert.SentAt != nil && !alert.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) alertByID(id int64) storage.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts[id]
}

var (
	_ storage.ItemStore         = (*memStore)(nil)
	_ storage.PriceHistoryStore = (*memStore)(nil)
	_ storage.SubscriptionStore = (*memStore)(nil)
	_ storage.AlertStore        = (*memStore)(nil)
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []alerting.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, note)
	return nil
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeFetcher struct {
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (decimal.Decimal, error) {
	if err := f.errs[url]; err != nil {
		return decimal.Decimal{}, err
	}
	return f.prices[url], nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	store    *memStore
	notifier *fakeNotifier
	fetcher  *fakeFetcher
	svc      *Service
}

func newHarness(t *testing.T, maxDeliveryAttempts int) *harness {
	t.Helper()

	store := newMemStore()
	notifier := &fakeNotifier{}
	f := &fakeFetcher{prices: make(map[string]decimal.Decimal), errs: make(map[string]error)}

	filter := alerting.NewFilter(store, alerting.FilterConfig{
		DedupWindow:     24 * time.Hour,
		MinAbsChange:    decimal.NewFromInt(1),
		MinPctChange:    decimal.NewFromInt(1),
		MaxAlertsPerDay: 10,
	})

	cfg := &config.Config{}
	cfg.Alerting.Enabled = true
	cfg.Alerting.MaxDeliveryAttempts = maxDeliveryAttempts
	cfg.Fetch.MaxRetries = 0
	cfg.Fetch.RetryBackoff = time.Millisecond

	svc := New(cfg, Deps{
		Fetcher:       f,
		Items:         store,
		History:       store,
		Subscriptions: store,
		Alerts:        store,
		Filter:        filter,
		Notifier:      notifier,
	}, zerolog.Nop())

	return &harness{store: store, notifier: notifier, fetcher: f, svc: svc}
}

func (h *harness) addItem(id int64, name, url, price string) storage.Item {
	item := storage.Item{ID: id, Name: name, URL: url, CurrentPrice: dec(price), IsActive: true}
	h.store.items[id] = item
	return item
}

func (h *harness) addSub(id, itemID int64, user string, alertType storage.AlertType, target string) {
	t := decimal.Zero
	if target != "" {
		t = dec(target)
	}
	h.store.subs[id] = storage.Subscription{ID: id, ItemID: itemID, UserID: user, AlertType: alertType, TargetValue: t, IsActive: true}
}

func TestObservePriceDropDelivers(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	now := time.Now().UTC()
	require.NoError(t, h.svc.Observe(context.Background(), item, dec("90.00"), now))

	assert.Equal(t, 1, h.notifier.sentCount())

	alert := h.store.alertByID(1)
	assert.Equal(t, storage.AlertStatusSent, alert.Status)
	require.NotNil(t, alert.SentAt)
	assert.Equal(t, 1, alert.Attempts)

	points, err := h.store.ListPricePointsSince(context.Background(), 1, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(dec("90.00")))

	stored, err := h.store.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(dec("90.00")))
}

func TestObserveReloadsCurrentPriceUnderLock(t *testing.T) {
	h := newHarness(t, 3)
	snapshot := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	// Two observations hold the same pre-sweep snapshot. The first drops
	// the price to 90; the second is really a 90 -> 95 increase and must
	// not be evaluated against the stale 100.
	now := time.Now().UTC()
	require.NoError(t, h.svc.Observe(context.Background(), snapshot, dec("90.00"), now))
	require.NoError(t, h.svc.Observe(context.Background(), snapshot, dec("95.00"), now.Add(time.Second)))

	assert.Equal(t, 1, h.notifier.sentCount())
	assert.Equal(t, int64(1), h.store.nextAlertID, "the increase must not fire a drop alert")

	stored, err := h.store.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(dec("95.00")))
}

func TestObserveConcurrentSnapshots(t *testing.T) {
	h := newHarness(t, 3)
	snapshot := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	now := time.Now().UTC()
	var wg sync.WaitGroup
	for i, price := range []string{"90.00", "95.00"} {
		wg.Add(1)
		go func(p string, offset time.Duration) {
			defer wg.Done()
			_ = h.svc.Observe(context.Background(), snapshot, dec(p), now.Add(offset))
		}(price, time.Duration(i)*time.Second)
	}
	wg.Wait()

	// Whichever observation ran second saw the first one's price, so
	// exactly one drop can be delivered regardless of interleaving.
	var sent int
	for id := int64(1); id <= h.store.nextAlertID; id++ {
		if h.store.alertByID(id).Status == storage.AlertStatusSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestObserveStaleObservationDropped(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	now := time.Now().UTC()
	require.NoError(t, h.store.InsertPricePoint(context.Background(), storage.PricePoint{
		ItemID: 1, Price: dec("100.00"), RecordedAt: now,
	}))

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("50.00"), now.Add(-time.Hour)))

	assert.Equal(t, 0, h.notifier.sentCount())

	stored, err := h.store.GetItem(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.CurrentPrice.Equal(dec("100.00")), "stale observation must not move the current price")

	points, err := h.store.ListPricePointsSince(context.Background(), 1, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestObserveMinorChangeSuppressed(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("99.50"), time.Now().UTC()))

	assert.Equal(t, 0, h.notifier.sentCount())

	alert := h.store.alertByID(1)
	assert.Equal(t, storage.AlertStatusSuppressed, alert.Status)
	require.NotNil(t, alert.SuppressReason)
	assert.Equal(t, alerting.ReasonMinorChange, *alert.SuppressReason)
}

func TestObserveRepeatedDropDeduplicated(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("90.00"), time.Now().UTC()))

	item, err := h.store.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, h.svc.Observe(context.Background(), item, dec("80.00"), time.Now().UTC()))

	assert.Equal(t, 1, h.notifier.sentCount(), "second drop inside the dedup window must not deliver")

	second := h.store.alertByID(2)
	assert.Equal(t, storage.AlertStatusSuppressed, second.Status)
	require.NotNil(t, second.SuppressReason)
	assert.Equal(t, alerting.ReasonDuplicate, *second.SuppressReason)
}

func TestDeliveryFailureRetriesThenSuppresses(t *testing.T) {
	h := newHarness(t, 2)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")
	h.notifier.setErr(errors.New("telegram down"))

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("90.00"), time.Now().UTC()))

	alert := h.store.alertByID(1)
	assert.Equal(t, storage.AlertStatusPending, alert.Status, "first failure keeps the alert pending")
	assert.Equal(t, 1, alert.Attempts)

	// Next sweep retries the pending alert; the channel is still down, so
	// the attempt budget runs out and the alert is suppressed.
	h.fetcher.prices["https://shop.example/kb"] = dec("90.00")
	require.NoError(t, h.svc.ProcessSweep(context.Background(), time.Now().UTC()))

	alert = h.store.alertByID(1)
	assert.Equal(t, storage.AlertStatusSuppressed, alert.Status)
	assert.Equal(t, 2, alert.Attempts)
	assert.Equal(t, 0, h.notifier.sentCount())
}

func TestDeliveryFailureRecoversOnRetry(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")
	h.notifier.setErr(errors.New("telegram down"))

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("90.00"), time.Now().UTC()))
	require.Equal(t, storage.AlertStatusPending, h.store.alertByID(1).Status)

	h.notifier.setErr(nil)
	h.fetcher.prices["https://shop.example/kb"] = dec("90.00")
	require.NoError(t, h.svc.ProcessSweep(context.Background(), time.Now().UTC()))

	alert := h.store.alertByID(1)
	assert.Equal(t, storage.AlertStatusSent, alert.Status)
	assert.Equal(t, 1, h.notifier.sentCount())
}

func TestRetryDeliversAlertsCreatedWithoutChannel(t *testing.T) {
	h := newHarness(t, 3)
	h.addItem(1, "keyboard", "https://shop.example/kb", "90.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")
	h.fetcher.prices["https://shop.example/kb"] = dec("90.00")

	// An alert left PENDING with zero attempts, as dispatch does when no
	// delivery channel is configured. Once it has aged past a sweep
	// interval, the retry pass owns it.
	now := time.Now().UTC()
	h.store.alerts[1] = storage.Alert{
		ID:             1,
		SubscriptionID: 1,
		OldPrice:       dec("100.00"),
		NewPrice:       dec("90.00"),
		AlertType:      storage.AlertPriceDrop,
		TriggeredAt:    now.Add(-time.Hour),
		Status:         storage.AlertStatusPending,
	}
	h.store.nextAlertID = 1

	require.NoError(t, h.svc.ProcessSweep(context.Background(), now))

	assert.Equal(t, 1, h.notifier.sentCount())
	assert.Equal(t, storage.AlertStatusSent, h.store.alertByID(1).Status)
}

func TestRetrySkipsFreshUndispatchedAlerts(t *testing.T) {
	h := newHarness(t, 3)
	h.addItem(1, "keyboard", "https://shop.example/kb", "90.00")
	h.addSub(1, 1, "user-1", storage.AlertPriceDrop, "")
	h.fetcher.prices["https://shop.example/kb"] = dec("90.00")

	now := time.Now().UTC()
	h.store.alerts[1] = storage.Alert{
		ID:             1,
		SubscriptionID: 1,
		OldPrice:       dec("100.00"),
		NewPrice:       dec("90.00"),
		AlertType:      storage.AlertPriceDrop,
		TriggeredAt:    now,
		Status:         storage.AlertStatusPending,
	}
	h.store.nextAlertID = 1

	require.NoError(t, h.svc.ProcessSweep(context.Background(), now))

	assert.Equal(t, 0, h.notifier.sentCount(), "an alert still in flight on the observation path must not be double-dispatched")
	assert.Equal(t, storage.AlertStatusPending, h.store.alertByID(1).Status)
}

func TestProcessSweepContinuesPastFailedItem(t *testing.T) {
	h := newHarness(t, 3)
	h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")
	h.addItem(2, "mouse", "https://shop.example/mouse", "50.00")
	h.fetcher.errs["https://shop.example/kb"] = errors.New("resolver error (502)")
	h.fetcher.prices["https://shop.example/mouse"] = dec("45.00")

	require.NoError(t, h.svc.ProcessSweep(context.Background(), time.Now().UTC()))

	points, err := h.store.ListPricePointsSince(context.Background(), 2, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, points, 1, "healthy item must still be swept")

	kbPoints, err := h.store.ListPricePointsSince(context.Background(), 1, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, kbPoints)
}

func TestProcessSweepHonorsCancellation(t *testing.T) {
	h := newHarness(t, 3)
	h.addItem(1, "keyboard", "https://shop.example/kb", "100.00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.svc.ProcessSweep(ctx, time.Now().UTC())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserveBackInStock(t *testing.T) {
	h := newHarness(t, 3)
	item := h.addItem(1, "console", "https://shop.example/console", "0")
	h.addSub(1, 1, "user-1", storage.AlertBackInStock, "")

	require.NoError(t, h.svc.Observe(context.Background(), item, dec("499.99"), time.Now().UTC()))

	assert.Equal(t, 1, h.notifier.sentCount())
	alert := h.store.alertByID(1)
	assert.Equal(t, storage.AlertBackInStock, alert.AlertType)
	assert.Equal(t, storage.AlertStatusSent, alert.Status)
}
