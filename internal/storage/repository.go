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
)

const (
	listDueItemsSQL = `SELECT
        id, scope_id, asin, title, priority, last_observed_at, is_active, created_at
    FROM tracked_items
    WHERE scope_id = $1
      AND is_active = true
      AND (last_observed_at IS NULL OR last_observed_at < $2)
    ORDER BY priority DESC, last_observed_at ASC NULLS FIRST
    LIMIT $3;`

	markObservedSQL = `UPDATE tracked_items
    SET last_observed_at = $2
    WHERE id = $1;`

	insertObservationSQL = `INSERT INTO observations (
        item_id,
        captured_at,
        price,
        list_price,
        discount_pct,
        has_coupon,
        coupon_amount,
        seller_name,
        seller_count,
        availability,
        prime_eligible,
        rating,
        review_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id, created_at;`

	recentObservationsSQL = `SELECT
        id, item_id, captured_at, price, list_price, discount_pct,
        has_coupon, coupon_amount, seller_name, seller_count,
        availability, prime_eligible, rating, review_count, created_at
    FROM observations
    WHERE item_id = $1
      AND captured_at >= $2
    ORDER BY captured_at DESC
    LIMIT $3;`

	observationsBetweenSQL = `SELECT
        id, item_id, captured_at, price, list_price, discount_pct,
        has_coupon, coupon_amount, seller_name, seller_count,
        availability, prime_eligible, rating, review_count, created_at
    FROM observations
    WHERE item_id = $1
      AND captured_at >= $2
      AND captured_at < $3
    ORDER BY captured_at ASC;`

	insertAlertSQL = `INSERT INTO alerts (
        item_id,
        scope_id,
        asin,
        title,
        kind,
        severity,
        current_price,
        previous_price,
        price_change,
        price_change_pct,
        coupon_amount,
        availability
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, item_id, scope_id, asin, title, kind, severity,
        current_price, previous_price, price_change, price_change_pct,
        coupon_amount, availability, created_at
    FROM alerts
    WHERE scope_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ItemStore defines read/update access to tracked items.
type ItemStore interface {
	ListDueItems(ctx context.Context, scopeID string, staleBefore time.Time, limit int) ([]TrackedItem, error)
	MarkObserved(ctx context.Context, itemID int64, observedAt time.Time) error
}

// ObservationStore defines append-only observation persistence.
type ObservationStore interface {
	Append(ctx context.Context, obs Observation) (Observation, error)
	RecentByItem(ctx context.Context, itemID int64, limit, windowDays int) ([]Observation, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, scopeID string, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to tracked items, observations, and alerts.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListDueItems lists active items not refreshed since staleBefore,
// ordered by priority then staleness.
func (s *Store) ListDueItems(ctx context.Context, scopeID string, staleBefore time.Time, limit int) ([]TrackedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDueItemsSQL, scopeID, staleBefore, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list due items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]TrackedItem, 0, limit)
	for rows.Next() {
		var item TrackedItem
		var title sql.NullString
		var lastObserved sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.ScopeID,
			&item.ASIN,
			&title,
			&item.Priority,
			&lastObserved,
			&item.Active,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		if title.Valid {
			value := title.String
			item.Title = &value
		}
		if lastObserved.Valid {
			value := lastObserved.Time
			item.LastObservedAt = &value
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// MarkObserved stamps the item's last successful observation time.
func (s *Store) MarkObserved(ctx context.Context, itemID int64, observedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markObservedSQL, itemID, observedAt)
	if execErr != nil {
		return fmt.Errorf("mark observed: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Append persists one observation and returns it with its assigned id.
func (s *Store) Append(ctx context.Context, obs Observation) (Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return Observation{}, err
	}

	row := pool.QueryRow(ctx, insertObservationSQL,
		obs.ItemID,
		obs.CapturedAt,
		decimalPtrArg(obs.Price),
		decimalPtrArg(obs.ListPrice),
		decimalPtrArg(obs.DiscountPct),
		obs.HasCoupon,
		obs.CouponAmount.String(),
		obs.SellerName,
		obs.SellerCount,
		obs.Availability,
		obs.PrimeEligible,
		obs.Rating,
		obs.ReviewCount,
	)
	if scanErr := row.Scan(&obs.ID, &obs.CreatedAt); scanErr != nil {
		return Observation{}, fmt.Errorf("append observation: %w", scanErr)
	}
	return obs, nil
}

// RecentByItem lists the most recent observations for one item, newest first,
// bounded by both a row limit and a trailing day window.
func (s *Store) RecentByItem(ctx context.Context, itemID int64, limit, windowDays int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, queryErr := pool.Query(ctx, recentObservationsSQL, itemID, since, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]Observation, 0, limit)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// ObservationsBetween lists observations for one item inside [from, to),
// oldest first. Used by the export command.
func (s *Store) ObservationsBetween(ctx context.Context, itemID int64, from, to time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, observationsBetweenSQL, itemID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("observations between: %w", queryErr)
	}
	defer rows.Close()

	var observations []Observation
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// InsertAlert persists an alert emission append-only.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ItemID,
		alert.ScopeID,
		alert.ASIN,
		alert.Title,
		alert.Kind,
		alert.Severity,
		alert.CurrentPrice.String(),
		decimalPtrArg(alert.PreviousPrice),
		decimalPtrArg(alert.PriceChange),
		decimalPtrArg(alert.PriceChangePct),
		decimalPtrArg(alert.CouponAmount),
		alert.Availability,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts for one scope.
func (s *Store) ListRecentAlerts(ctx context.Context, scopeID string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, scopeID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var title sql.NullString
		var currentStr string
		var previousStr, changeStr, changePctStr, couponStr sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.ItemID,
			&rec.ScopeID,
			&rec.ASIN,
			&title,
			&rec.Kind,
			&rec.Severity,
			&currentStr,
			&previousStr,
			&changeStr,
			&changePctStr,
			&couponStr,
			&rec.Availability,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		if title.Valid {
			value := title.String
			rec.Title = &value
		}

		var convErr error
		rec.CurrentPrice, convErr = decimal.NewFromString(currentStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}
		if rec.PreviousPrice, convErr = decimalFromNull(previousStr); convErr != nil {
			return nil, fmt.Errorf("parse previous price: %w", convErr)
		}
		if rec.PriceChange, convErr = decimalFromNull(changeStr); convErr != nil {
			return nil, fmt.Errorf("parse price change: %w", convErr)
		}
		if rec.PriceChangePct, convErr = decimalFromNull(changePctStr); convErr != nil {
			return nil, fmt.Errorf("parse price change pct: %w", convErr)
		}
		if rec.CouponAmount, convErr = decimalFromNull(couponStr); convErr != nil {
			return nil, fmt.Errorf("parse coupon amount: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		obs          Observation
		priceStr     sql.NullString
		listPriceStr sql.NullString
		discountStr  sql.NullString
		couponStr    string
		sellerName   sql.NullString
	)

	if err := rows.Scan(
		&obs.ID,
		&obs.ItemID,
		&obs.CapturedAt,
		&priceStr,
		&listPriceStr,
		&discountStr,
		&obs.HasCoupon,
		&couponStr,
		&sellerName,
		&obs.SellerCount,
		&obs.Availability,
		&obs.PrimeEligible,
		&obs.Rating,
		&obs.ReviewCount,
		&obs.CreatedAt,
	); err != nil {
		return Observation{}, err
	}

	var convErr error
	if obs.Price, convErr = decimalFromNull(priceStr); convErr != nil {
		return Observation{}, fmt.Errorf("parse price: %w", convErr)
	}
	if obs.ListPrice, convErr = decimalFromNull(listPriceStr); convErr != nil {
		return Observation{}, fmt.Errorf("parse list price: %w", convErr)
	}
	if obs.DiscountPct, convErr = decimalFromNull(discountStr); convErr != nil {
		return Observation{}, fmt.Errorf("parse discount pct: %w", convErr)
	}
	if obs.CouponAmount, convErr = decimal.NewFromString(couponStr); convErr != nil {
		return Observation{}, fmt.Errorf("parse coupon amount: %w", convErr)
	}
	if sellerName.Valid {
		value := sellerName.String
		obs.SellerName = &value
	}

	return obs, nil
}

var (
	_ ItemStore        = (*Store)(nil)
	_ ObservationStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)

func decimalPtrArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalFromNull(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
