package features

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"primepulse/internal/analytics"
	"primepulse/internal/storage"
)

// volatilityWindow bounds how many recent observations feed the price
// coefficient of variation.
const volatilityWindow = 10

// Extractor derives per-item feature rows from observation history and
// persists them into the analytics store.
type Extractor struct {
	store  analytics.FeatureStore
	logger zerolog.Logger
}

// NewExtractor constructs a feature extractor.
func NewExtractor(store analytics.FeatureStore, logger zerolog.Logger) *Extractor {
	return &Extractor{
		store:  store,
		logger: logger.With().Str("component", "feature_extractor").Logger(),
	}
}

// Process computes a feature row from the item's recent observations
// (newest first) and upserts it keyed by (item, capture timestamp).
// Returns nil with no store write when fewer than two observations exist.
func (e *Extractor) Process(ctx context.Context, item storage.TrackedItem, history []storage.Observation) (*analytics.FeatureRow, error) {
	row := Extract(item, history)
	if row == nil {
		return nil, nil
	}

	if err := e.store.UpsertFeatures(ctx, *row); err != nil {
		return nil, err
	}

	e.logger.Debug().Str("asin", item.ASIN).
		Float64("delta_pct", row.PriceDeltaPct).
		Float64("volatility", row.PriceVolatility).
		Msg("feature row stored")
	return row, nil
}

// Extract computes one feature row from observation history, newest first.
// Pure: no side effects, nil when fewer than two observations are supplied.
func Extract(item storage.TrackedItem, history []storage.Observation) *analytics.FeatureRow {
	if len(history) < 2 {
		return nil
	}

	latest := history[0]
	previous := history[1]

	currentPrice := latest.PriceValue().InexactFloat64()
	previousPrice := previous.PriceValue().InexactFloat64()

	delta := currentPrice - previousPrice
	deltaPct := 0.0
	if previousPrice > 0 {
		deltaPct = delta / previousPrice * 100
	}

	capturedAt := latest.CapturedAt.UTC()
	weekday := capturedAt.Weekday()

	return &analytics.FeatureRow{
		ItemID:            item.ID,
		ASIN:              item.ASIN,
		Timestamp:         capturedAt,
		CurrentPrice:      currentPrice,
		PreviousPrice:     previousPrice,
		PriceDelta:        delta,
		PriceDeltaPct:     deltaPct,
		CouponFlip:        latest.HasCoupon != previous.HasCoupon,
		CouponAmount:      latest.CouponAmount.InexactFloat64(),
		SellerCount:       latest.SellerCount,
		SellerDelta:       latest.SellerCount - previous.SellerCount,
		AvailabilityScore: AvailabilityScore(latest.Availability),
		PrimeEligible:     latest.PrimeEligible,
		Rating:            latest.Rating,
		ReviewCount:       latest.ReviewCount,
		PriceVolatility:   PriceVolatility(history),
		IsWeekend:         weekday == time.Saturday || weekday == time.Sunday,
		HourOfDay:         capturedAt.Hour(),
	}
}

// AvailabilityScore maps an availability state to a fixed numeric score.
func AvailabilityScore(availability string) float64 {
	switch availability {
	case storage.AvailabilityInStock:
		return 1.0
	case storage.AvailabilityLimited:
		return 0.7
	case storage.AvailabilityLowStock:
		return 0.5
	case storage.AvailabilityOutOfStock, storage.AvailabilityNone:
		return 0.0
	default:
		return 0.5
	}
}

// PriceVolatility computes the coefficient of variation (population standard
// deviation over mean) of the most recent positive prices. Returns 0 when
// fewer than three observations exist or fewer than two positive prices
// survive filtering.
func PriceVolatility(history []storage.Observation) float64 {
	if len(history) < 3 {
		return 0
	}

	window := history
	if len(window) > volatilityWindow {
		window = window[:volatilityWindow]
	}

	prices := make([]float64, 0, len(window))
	for _, obs := range window {
		if price := obs.PriceValue().InexactFloat64(); price > 0 {
			prices = append(prices, price)
		}
	}
	if len(prices) < 2 {
		return 0
	}

	var sum float64
	for _, price := range prices {
		sum += price
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, price := range prices {
		variance += (price - mean) * (price - mean)
	}
	variance /= float64(len(prices))

	return math.Sqrt(variance) / mean
}
