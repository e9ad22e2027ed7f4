package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Availability states reported for a product listing.
const (
	AvailabilityInStock    = "in stock"
	AvailabilityLimited    = "limited"
	AvailabilityLowStock   = "low stock"
	AvailabilityOutOfStock = "out of stock"
	AvailabilityUnknown    = "unknown"
	AvailabilityNone       = "unavailable"
)

// TrackedItem identifies one monitored product for one tracking scope.
// At most one active row exists per (scope, asin) pair.
type TrackedItem struct {
	ID             int64
	ScopeID        string
	ASIN           string
	Title          *string
	Priority       int
	LastObservedAt *time.Time
	Active         bool
	CreatedAt      time.Time
}

// Observation is one point-in-time snapshot of a tracked item. Rows are
// append-only; the pipeline always compares the two most recent.
type Observation struct {
	ID            int64
	ItemID        int64
	CapturedAt    time.Time
	Price         *decimal.Decimal
	ListPrice     *decimal.Decimal
	DiscountPct   *decimal.Decimal
	HasCoupon     bool
	CouponAmount  decimal.Decimal
	SellerName    *string
	SellerCount   int
	Availability  string
	PrimeEligible bool
	Rating        float64
	ReviewCount   int
	CreatedAt     time.Time
}

// PriceValue returns the observed price, or zero when the listing had none.
func (o Observation) PriceValue() decimal.Decimal {
	if o.Price == nil {
		return decimal.Zero
	}
	return *o.Price
}

// AlertRecord captures an emitted alert for auditing and delivery.
type AlertRecord struct {
	ID             int64
	ItemID         int64
	ScopeID        string
	ASIN           string
	Title          *string
	Kind           string
	Severity       string
	CurrentPrice   decimal.Decimal
	PreviousPrice  *decimal.Decimal
	PriceChange    *decimal.Decimal
	PriceChangePct *decimal.Decimal
	CouponAmount   *decimal.Decimal
	Availability   string
	CreatedAt      time.Time
}
