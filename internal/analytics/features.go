package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// tsLayout keeps stored timestamps lexically ordered (fixed width, UTC).
const tsLayout = "2006-01-02T15:04:05.000Z"

const (
	upsertFeatureSQL = `INSERT INTO price_features (
        item_id, asin, ts, current_price, previous_price, price_delta,
        price_delta_pct, coupon_flip, coupon_amount, seller_count,
        seller_delta, availability_score, prime_eligible, rating,
        review_count, price_volatility, is_weekend, hour_of_day
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (item_id, ts) DO UPDATE SET
        current_price      = excluded.current_price,
        previous_price     = excluded.previous_price,
        price_delta        = excluded.price_delta,
        price_delta_pct    = excluded.price_delta_pct,
        coupon_flip        = excluded.coupon_flip,
        coupon_amount      = excluded.coupon_amount,
        seller_count       = excluded.seller_count,
        seller_delta       = excluded.seller_delta,
        availability_score = excluded.availability_score,
        prime_eligible     = excluded.prime_eligible,
        rating             = excluded.rating,
        review_count       = excluded.review_count,
        price_volatility   = excluded.price_volatility,
        is_weekend         = excluded.is_weekend,
        hour_of_day        = excluded.hour_of_day;`

	windowSnapshotSQL = `SELECT
        COUNT(*),
        COALESCE(AVG(price_delta_pct), 0),
        COALESCE(SUM(CASE WHEN price_delta < 0 THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(coupon_flip), 0),
        COALESCE(AVG(seller_count), 0),
        COALESCE(MIN(price_delta_pct), 0),
        COALESCE(MAX(price_delta_pct), 0)
    FROM (
        SELECT price_delta, price_delta_pct, coupon_flip, seller_count
        FROM price_features
        WHERE item_id = ? AND ts >= ?
        ORDER BY ts DESC
        LIMIT ?
    );`

	latestVolatilitySQL = `SELECT price_volatility
    FROM price_features
    WHERE item_id = ? AND ts >= ?
    ORDER BY ts DESC
    LIMIT 1;`
)

// FeatureStore defines feature-row persistence and window aggregation.
type FeatureStore interface {
	UpsertFeatures(ctx context.Context, row FeatureRow) error
	WindowSnapshot(ctx context.Context, itemID int64, windowDays, windowPoints int) (*FeatureSnapshot, error)
}

// UpsertFeatures writes one feature row keyed by (item, timestamp).
func (s *Store) UpsertFeatures(ctx context.Context, row FeatureRow) error {
	_, err := s.conn.ExecContext(ctx, upsertFeatureSQL,
		row.ItemID,
		row.ASIN,
		row.Timestamp.UTC().Format(tsLayout),
		row.CurrentPrice,
		row.PreviousPrice,
		row.PriceDelta,
		row.PriceDeltaPct,
		boolInt(row.CouponFlip),
		row.CouponAmount,
		row.SellerCount,
		row.SellerDelta,
		row.AvailabilityScore,
		boolInt(row.PrimeEligible),
		row.Rating,
		row.ReviewCount,
		row.PriceVolatility,
		boolInt(row.IsWeekend),
		row.HourOfDay,
	)
	if err != nil {
		return fmt.Errorf("upsert features: %w", err)
	}
	return nil
}

// WindowSnapshot aggregates the rolling feature window for one item.
// Returns nil when no feature rows exist in the window.
func (s *Store) WindowSnapshot(ctx context.Context, itemID int64, windowDays, windowPoints int) (*FeatureSnapshot, error) {
	since := time.Now().UTC().AddDate(0, 0, -windowDays).Format(tsLayout)

	snapshot := FeatureSnapshot{ItemID: itemID}
	err := s.conn.QueryRowContext(ctx, windowSnapshotSQL, itemID, since, windowPoints).Scan(
		&snapshot.DataPoints,
		&snapshot.AvgPriceChange,
		&snapshot.DropCount,
		&snapshot.CouponFlips,
		&snapshot.AvgSellerCount,
		&snapshot.MaxDropPct,
		&snapshot.MaxIncreasePct,
	)
	if err != nil {
		return nil, fmt.Errorf("window snapshot: %w", err)
	}
	if snapshot.DataPoints == 0 {
		return nil, nil
	}

	err = s.conn.QueryRowContext(ctx, latestVolatilitySQL, itemID, since).Scan(&snapshot.PriceVolatility)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest volatility: %w", err)
	}

	return &snapshot, nil
}

var _ FeatureStore = (*Store)(nil)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
