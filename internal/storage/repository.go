package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertItemSQL = `INSERT INTO tracked_items (
        name, url, category, retailer, current_price, is_active
    ) VALUES ($1,$2,$3,$4,$5,TRUE)
    RETURNING id, name, url, category, retailer, current_price, is_active, created_at, updated_at;`

	getItemSQL = `SELECT id, name, url, category, retailer, current_price, is_active, created_at, updated_at
    FROM tracked_items
    WHERE id = $1;`

	listItemsSQL = `SELECT id, name, url, category, retailer, current_price, is_active, created_at, updated_at
    FROM tracked_items
    ORDER BY id;`

	listActiveItemsSQL = `SELECT id, name, url, category, retailer, current_price, is_active, created_at, updated_at
    FROM tracked_items
    WHERE is_active
    ORDER BY id;`

	updateItemPriceSQL = `UPDATE tracked_items
    SET current_price = $2, updated_at = $3
    WHERE id = $1;`

	deactivateItemSQL = `UPDATE tracked_items
    SET is_active = FALSE, updated_at = NOW()
    WHERE id = $1;`

	insertPricePointSQL = `INSERT INTO price_points (item_id, price, recorded_at)
    VALUES ($1,$2,$3);`

	listPricePointsSinceSQL = `SELECT item_id, price, recorded_at
    FROM price_points
    WHERE item_id = $1
      AND recorded_at >= $2
    ORDER BY recorded_at;`

	latestPricePointSQL = `SELECT item_id, price, recorded_at
    FROM price_points
    WHERE item_id = $1
    ORDER BY recorded_at DESC
    LIMIT 1;`

	insertSubscriptionSQL = `INSERT INTO subscriptions (
        item_id, user_id, alert_type, target_value, is_active
    ) VALUES ($1,$2,$3,$4,TRUE)
    RETURNING id, item_id, user_id, alert_type, target_value, is_active, created_at;`

	listActiveSubscriptionsSQL = `SELECT id, item_id, user_id, alert_type, target_value, is_active, created_at
    FROM subscriptions
    WHERE item_id = $1
      AND is_active
    ORDER BY id;`

	deactivateSubscriptionSQL = `UPDATE subscriptions
    SET is_active = FALSE
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        subscription_id, old_price, new_price, alert_type, triggered_at, status
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at;`

	markAlertSentSQL = `UPDATE alerts
    SET status = 'SENT', sent_at = $2, attempts = attempts + 1
    WHERE id = $1;`

	markAlertSuppressedSQL = `UPDATE alerts
    SET status = 'SUPPRESSED', suppress_reason = $2
    WHERE id = $1;`

	recordAlertAttemptSQL = `UPDATE alerts
    SET attempts = attempts + 1
    WHERE id = $1;`

	listPendingAlertsSQL = `SELECT id, subscription_id, old_price, new_price, alert_type, triggered_at,
        status, sent_at, attempts, suppress_reason, created_at
    FROM alerts
    WHERE status = 'PENDING'
    ORDER BY triggered_at
    LIMIT $1;`

	listRecentAlertsSQL = `SELECT id, subscription_id, old_price, new_price, alert_type, triggered_at,
        status, sent_at, attempts, suppress_reason, created_at
    FROM alerts
    ORDER BY triggered_at DESC
    LIMIT $1;`

	similarAlertSentSinceSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts
        WHERE subscription_id = $1
          AND alert_type = $2
          AND status = 'SENT'
          AND sent_at >= $3
    );`

	countSentToUserSinceSQL = `SELECT COUNT(*)
    FROM alerts a
    JOIN subscriptions s ON s.id = a.subscription_id
    WHERE s.user_id = $1
      AND a.status = 'SENT'
      AND a.sent_at >= $2;`

	getSubscriptionSQL = `SELECT id, item_id, user_id, alert_type, target_value, is_active, created_at
    FROM subscriptions
    WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ItemStore defines operations on tracked items.
type ItemStore interface {
	InsertItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	ListActiveItems(ctx context.Context) ([]Item, error)
	UpdateItemPrice(ctx context.Context, id int64, price decimal.Decimal, at time.Time) error
	DeactivateItem(ctx context.Context, id int64) error
}

// PriceHistoryStore defines the append-only price series log.
type PriceHistoryStore interface {
	InsertPricePoint(ctx context.Context, point PricePoint) error
	ListPricePointsSince(ctx context.Context, itemID int64, since time.Time) ([]PricePoint, error)
	LatestPricePoint(ctx context.Context, itemID int64) (*PricePoint, error)
}

// SubscriptionStore defines operations on alert subscriptions.
type SubscriptionStore interface {
	InsertSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	GetSubscription(ctx context.Context, id int64) (Subscription, error)
	ListActiveSubscriptions(ctx context.Context, itemID int64) ([]Subscription, error)
	DeactivateSubscription(ctx context.Context, id int64) error
}

// AlertStore defines operations on alert records.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert Alert) (Alert, error)
	MarkAlertSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkAlertSuppressed(ctx context.Context, id int64, reason string) error
	RecordAlertAttempt(ctx context.Context, id int64) error
	ListPendingAlerts(ctx context.Context, limit int) ([]Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	SimilarAlertSentSince(ctx context.Context, subscriptionID int64, alertType AlertType, since time.Time) (bool, error)
	CountSentToUserSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to items, price history, subscriptions, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertItem persists a new tracked item.
func (s *Store) InsertItem(ctx context.Context, item Item) (Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return Item{}, err
	}

	row := pool.QueryRow(ctx, insertItemSQL,
		item.Name,
		item.URL,
		item.Category,
		item.Retailer,
		item.CurrentPrice.String(),
	)
	return scanItem(row)
}

// GetItem fetches one item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return Item{}, err
	}

	item, err := scanItem(pool.QueryRow(ctx, getItemSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return item, err
}

// ListItems lists all tracked items, active and inactive.
func (s *Store) ListItems(ctx context.Context) ([]Item, error) {
	return s.queryItems(ctx, listItemsSQL)
}

// ListActiveItems lists items included in the sweep.
func (s *Store) ListActiveItems(ctx context.Context) ([]Item, error) {
	return s.queryItems(ctx, listActiveItemsSQL)
}

func (s *Store) queryItems(ctx context.Context, query string) ([]Item, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// UpdateItemPrice advances the item's current price.
func (s *Store) UpdateItemPrice(ctx context.Context, id int64, price decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateItemPriceSQL, id, price.String(), at)
	if execErr != nil {
		return fmt.Errorf("update item price: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateItem soft-deletes a tracked item.
func (s *Store) DeactivateItem(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deactivateItemSQL, id)
	if execErr != nil {
		return fmt.Errorf("deactivate item: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertPricePoint appends one observation to the price log.
func (s *Store) InsertPricePoint(ctx context.Context, point PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertPricePointSQL, point.ItemID, point.Price.String(), point.RecordedAt); execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// ListPricePointsSince lists an item's observations from since onward, ascending.
func (s *Store) ListPricePointsSince(ctx context.Context, itemID int64, since time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSinceSQL, itemID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// LatestPricePoint returns the newest observation for an item, or nil when
// no history exists.
func (s *Store) LatestPricePoint(ctx context.Context, itemID int64) (*PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	point, scanErr := scanPricePoint(pool.QueryRow(ctx, latestPricePointSQL, itemID))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return &point, nil
}

// InsertSubscription persists a validated subscription.
func (s *Store) InsertSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	if err := sub.Validate(); err != nil {
		return Subscription{}, err
	}

	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	row := pool.QueryRow(ctx, insertSubscriptionSQL,
		sub.ItemID,
		sub.UserID,
		string(sub.AlertType),
		sub.TargetValue.String(),
	)
	return scanSubscription(row)
}

// GetSubscription fetches one subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	sub, err := scanSubscription(pool.QueryRow(ctx, getSubscriptionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

// ListActiveSubscriptions lists active subscriptions for one item.
func (s *Store) ListActiveSubscriptions(ctx context.Context, itemID int64) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveSubscriptionsSQL, itemID)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// DeactivateSubscription turns a subscription off without deleting it.
func (s *Store) DeactivateSubscription(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deactivateSubscriptionSQL, id)
	if execErr != nil {
		return fmt.Errorf("deactivate subscription: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertAlert persists a fired alert.
func (s *Store) InsertAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SubscriptionID,
		alert.OldPrice.String(),
		alert.NewPrice.String(),
		string(alert.AlertType),
		alert.TriggeredAt,
		string(alert.Status),
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// MarkAlertSent transitions an alert to SENT and stamps the delivery time.
func (s *Store) MarkAlertSent(ctx context.Context, id int64, sentAt time.Time) error {
	return s.execAlertUpdate(ctx, markAlertSentSQL, id, sentAt)
}

// MarkAlertSuppressed transitions an alert to SUPPRESSED with a reason.
func (s *Store) MarkAlertSuppressed(ctx context.Context, id int64, reason string) error {
	return s.execAlertUpdate(ctx, markAlertSuppressedSQL, id, reason)
}

// RecordAlertAttempt counts one failed delivery try.
func (s *Store) RecordAlertAttempt(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, recordAlertAttemptSQL, id); execErr != nil {
		return fmt.Errorf("record alert attempt: %w", execErr)
	}
	return nil
}

func (s *Store) execAlertUpdate(ctx context.Context, query string, id int64, arg interface{}) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, query, id, arg)
	if execErr != nil {
		return fmt.Errorf("update alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingAlerts lists undelivered alerts oldest first.
func (s *Store) ListPendingAlerts(ctx context.Context, limit int) ([]Alert, error) {
	return s.queryAlerts(ctx, listPendingAlertsSQL, limit)
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	return s.queryAlerts(ctx, listRecentAlertsSQL, limit)
}

func (s *Store) queryAlerts(ctx context.Context, query string, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0, limit)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// SimilarAlertSentSince reports whether a SENT alert with the same
// subscription and type exists at or after since.
func (s *Store) SimilarAlertSentSince(ctx context.Context, subscriptionID int64, alertType AlertType, since time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var exists bool
	if scanErr := pool.QueryRow(ctx, similarAlertSentSinceSQL, subscriptionID, string(alertType), since).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("similar alert lookup: %w", scanErr)
	}
	return exists, nil
}

// CountSentToUserSince counts alerts delivered to one user at or after since.
func (s *Store) CountSentToUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var count int
	if scanErr := pool.QueryRow(ctx, countSentToUserSinceSQL, userID, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count sent alerts: %w", scanErr)
	}
	return count, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		item     Item
		priceStr string
	)
	if err := row.Scan(
		&item.ID,
		&item.Name,
		&item.URL,
		&item.Category,
		&item.Retailer,
		&priceStr,
		&item.IsActive,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Item{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Item{}, fmt.Errorf("parse current price: %w", err)
	}
	item.CurrentPrice = price
	return item, nil
}

func scanPricePoint(row pgx.Row) (PricePoint, error) {
	var (
		point    PricePoint
		priceStr string
	)
	if err := row.Scan(&point.ItemID, &priceStr, &point.RecordedAt); err != nil {
		return PricePoint{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	point.Price = price
	return point, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub       Subscription
		typeStr   string
		targetStr string
	)
	if err := row.Scan(
		&sub.ID,
		&sub.ItemID,
		&sub.UserID,
		&typeStr,
		&targetStr,
		&sub.IsActive,
		&sub.CreatedAt,
	); err != nil {
		return Subscription{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse target value: %w", err)
	}
	sub.AlertType = AlertType(typeStr)
	sub.TargetValue = target
	return sub, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert     Alert
		oldStr    string
		newStr    string
		typeStr   string
		statusStr string
		sentAt    sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(
		&alert.ID,
		&alert.SubscriptionID,
		&oldStr,
		&newStr,
		&typeStr,
		&alert.TriggeredAt,
		&statusStr,
		&sentAt,
		&alert.Attempts,
		&reason,
		&alert.CreatedAt,
	); err != nil {
		return Alert{}, err
	}

	oldPrice, err := decimal.NewFromString(oldStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse old price: %w", err)
	}
	newPrice, err := decimal.NewFromString(newStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse new price: %w", err)
	}

	alert.OldPrice = oldPrice
	alert.NewPrice = newPrice
	alert.AlertType = AlertType(typeStr)
	alert.Status = AlertStatus(statusStr)
	if sentAt.Valid {
		value := sentAt.Time
		alert.SentAt = &value
	}
	if reason.Valid {
		value := reason.String
		alert.SuppressReason = &value
	}
	return alert, nil
}
