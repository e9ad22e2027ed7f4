package analytics

import "time"

// FeatureRow is one per-observation-pair feature record, keyed by
// (item, timestamp). Recomputing the same pair overwrites in place.
type FeatureRow struct {
	ItemID            int64
	ASIN              string
	Timestamp         time.Time
	CurrentPrice      float64
	PreviousPrice     float64
	PriceDelta        float64
	PriceDeltaPct     float64
	CouponFlip        bool
	CouponAmount      float64
	SellerCount       int
	SellerDelta       int
	AvailabilityScore float64
	PrimeEligible     bool
	Rating            float64
	ReviewCount       int
	PriceVolatility   float64
	IsWeekend         bool
	HourOfDay         int
}

// FeatureSnapshot summarises the rolling feature window for one item.
// Volatility is the coefficient of variation over recent prices carried by
// the newest row; the delta statistics are signed percentages.
type FeatureSnapshot struct {
	ItemID          int64
	AvgPriceChange  float64
	PriceVolatility float64
	DropCount       int
	CouponFlips     int
	AvgSellerCount  float64
	MaxDropPct      float64
	MaxIncreasePct  float64
	DataPoints      int
}

// Prediction is one persisted threat forecast for an item.
type Prediction struct {
	ItemID          int64
	ASIN            string
	Timestamp       time.Time
	DropProbability float64
	ExpectedDropPct float64
	Confidence      float64
	CurrentPrice    float64
	ModelVersion    string
	CreatedAt       time.Time
}
