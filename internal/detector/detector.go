package detector

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"primepulse/internal/storage"
)

// Alert kinds.
const (
	KindPriceDrop   = "price_drop"
	KindCouponAdded = "coupon_added"
	KindBackInStock = "back_in_stock"
)

// Alert severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var dec100 = decimal.NewFromInt(100)

// Thresholds parameterise the detection rules.
type Thresholds struct {
	DropThresholdPct decimal.Decimal
	MinimumDiscount  decimal.Decimal
}

// Detector classifies an observation pair into zero or more alerts.
// Fired alerts are persisted before being returned; a persistence failure is
// logged and never suppresses the alert itself.
type Detector struct {
	thresholds Thresholds
	alerts     storage.AlertStore
	logger     zerolog.Logger
}

// New constructs a detector.
func New(thresholds Thresholds, alerts storage.AlertStore, logger zerolog.Logger) *Detector {
	return &Detector{
		thresholds: thresholds,
		alerts:     alerts,
		logger:     logger.With().Str("component", "detector").Logger(),
	}
}

// Detect evaluates all rules independently against the two most recent
// observations for one item. The empty slice is the no-alert case.
func (d *Detector) Detect(ctx context.Context, item storage.TrackedItem, latest, previous storage.Observation) []storage.AlertRecord {
	alerts := make([]storage.AlertRecord, 0, 3)

	if alert := d.checkPriceDrop(item, latest, previous); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := d.checkCouponAdded(item, latest, previous); alert != nil {
		alerts = append(alerts, *alert)
	}
	if alert := d.checkBackInStock(item, latest, previous); alert != nil {
		alerts = append(alerts, *alert)
	}

	for i := range alerts {
		if d.alerts == nil {
			continue
		}
		stored, err := d.alerts.InsertAlert(ctx, alerts[i])
		if err != nil {
			d.logger.Error().Err(err).
				Str("asin", item.ASIN).
				Str("kind", alerts[i].Kind).
				Msg("failed to persist alert")
			continue
		}
		alerts[i] = stored
	}

	return alerts
}

func (d *Detector) checkPriceDrop(item storage.TrackedItem, latest, previous storage.Observation) *storage.AlertRecord {
	previousPrice := previous.PriceValue()
	if !previousPrice.IsPositive() {
		return nil
	}

	currentPrice := latest.PriceValue()
	change := currentPrice.Sub(previousPrice)
	changePct := change.Div(previousPrice).Mul(dec100)

	if changePct.GreaterThan(d.thresholds.DropThresholdPct.Neg()) {
		return nil
	}
	if change.Abs().LessThan(d.thresholds.MinimumDiscount) {
		return nil
	}

	return &storage.AlertRecord{
		ItemID:         item.ID,
		ScopeID:        item.ScopeID,
		ASIN:           item.ASIN,
		Title:          item.Title,
		Kind:           KindPriceDrop,
		Severity:       DropSeverity(changePct),
		CurrentPrice:   currentPrice,
		PreviousPrice:  &previousPrice,
		PriceChange:    &change,
		PriceChangePct: &changePct,
		Availability:   latest.Availability,
		CreatedAt:      latest.CapturedAt,
	}
}

func (d *Detector) checkCouponAdded(item storage.TrackedItem, latest, previous storage.Observation) *storage.AlertRecord {
	if previous.HasCoupon || !latest.HasCoupon {
		return nil
	}

	coupon := latest.CouponAmount
	return &storage.AlertRecord{
		ItemID:       item.ID,
		ScopeID:      item.ScopeID,
		ASIN:         item.ASIN,
		Title:        item.Title,
		Kind:         KindCouponAdded,
		Severity:     SeverityMedium,
		CurrentPrice: latest.PriceValue(),
		CouponAmount: &coupon,
		Availability: latest.Availability,
		CreatedAt:    latest.CapturedAt,
	}
}

func (d *Detector) checkBackInStock(item storage.TrackedItem, latest, previous storage.Observation) *storage.AlertRecord {
	wasOut := previous.Availability == storage.AvailabilityOutOfStock ||
		previous.Availability == storage.AvailabilityNone
	if !wasOut || latest.Availability != storage.AvailabilityInStock {
		return nil
	}

	return &storage.AlertRecord{
		ItemID:       item.ID,
		ScopeID:      item.ScopeID,
		ASIN:         item.ASIN,
		Title:        item.Title,
		Kind:         KindBackInStock,
		Severity:     SeverityLow,
		CurrentPrice: latest.PriceValue(),
		Availability: latest.Availability,
		CreatedAt:    latest.CapturedAt,
	}
}

// DropSeverity buckets a signed percent change into a severity tier.
func DropSeverity(changePct decimal.Decimal) string {
	abs := changePct.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(30)):
		return SeverityCritical
	case abs.GreaterThanOrEqual(decimal.NewFromInt(20)):
		return SeverityHigh
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
