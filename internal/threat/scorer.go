package threat

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"primepulse/internal/analytics"
	"primepulse/internal/storage"
)

// ModelVersion tags persisted predictions. The rule set below is an
// explainable stand-in for a trained model; bumping this when the rules
// change keeps stored predictions comparable.
const ModelVersion = "rules-v1"

// Assessment is a per-item price-drop forecast.
type Assessment struct {
	ItemID          int64
	ASIN            string
	Title           *string
	DropProbability float64
	ExpectedDropPct float64
	Confidence      float64
	CurrentPrice    float64
	Features        FeatureEcho
	Timestamp       time.Time
}

// FeatureEcho carries the contributing feature subset for explainability.
type FeatureEcho struct {
	AvgPriceChange  float64
	PriceVolatility float64
	DropCount       int
	CouponFlips     int
}

// Score derives an assessment from a feature snapshot. Pure: deterministic
// over its inputs, no side effects.
//
// Each indicator contributes independently and the sum is clamped to [0, 1]:
// volatility above 0.1, more than three recent drops, any coupon activity,
// a mean change below -5%, and a recent spike above +15%.
func Score(snapshot analytics.FeatureSnapshot, currentPrice float64, at time.Time) Assessment {
	probability := 0.0
	if snapshot.PriceVolatility > 0.1 {
		probability += 0.30
	}
	if snapshot.DropCount > 3 {
		probability += 0.20
	}
	if snapshot.CouponFlips > 0 {
		probability += 0.15
	}
	if snapshot.AvgPriceChange < -5 {
		probability += 0.25
	}
	if snapshot.MaxIncreasePct > 15 {
		probability += 0.10
	}
	probability = clamp01(probability)

	avgDrop := math.Abs(snapshot.AvgPriceChange)
	maxDrop := math.Abs(snapshot.MaxDropPct)
	expectedDrop := math.Min((avgDrop+maxDrop)/2, 50)

	return Assessment{
		ItemID:          snapshot.ItemID,
		DropProbability: probability,
		ExpectedDropPct: expectedDrop,
		Confidence:      confidence(snapshot.DataPoints),
		CurrentPrice:    currentPrice,
		Features: FeatureEcho{
			AvgPriceChange:  snapshot.AvgPriceChange,
			PriceVolatility: snapshot.PriceVolatility,
			DropCount:       snapshot.DropCount,
			CouponFlips:     snapshot.CouponFlips,
		},
		Timestamp: at.UTC(),
	}
}

func confidence(dataPoints int) float64 {
	switch {
	case dataPoints < 5:
		return 0.3
	case dataPoints < 20:
		return 0.6
	case dataPoints < 50:
		return 0.8
	default:
		return 0.9
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scorer persists assessments into the prediction store.
type Scorer struct {
	predictions analytics.PredictionStore
	logger      zerolog.Logger
}

// NewScorer constructs a scorer.
func NewScorer(predictions analytics.PredictionStore, logger zerolog.Logger) *Scorer {
	return &Scorer{
		predictions: predictions,
		logger:      logger.With().Str("component", "threat_scorer").Logger(),
	}
}

// Assess scores one item and persists the resulting prediction. Returns nil
// when no feature snapshot exists for the item.
func (s *Scorer) Assess(ctx context.Context, item storage.TrackedItem, snapshot *analytics.FeatureSnapshot, currentPrice decimal.Decimal) (*Assessment, error) {
	if snapshot == nil {
		return nil, nil
	}

	assessment := Score(*snapshot, currentPrice.InexactFloat64(), time.Now())
	assessment.ASIN = item.ASIN
	assessment.Title = item.Title

	if s.predictions != nil {
		prediction := analytics.Prediction{
			ItemID:          item.ID,
			ASIN:            item.ASIN,
			Timestamp:       assessment.Timestamp,
			DropProbability: assessment.DropProbability,
			ExpectedDropPct: assessment.ExpectedDropPct,
			Confidence:      assessment.Confidence,
			CurrentPrice:    assessment.CurrentPrice,
			ModelVersion:    ModelVersion,
		}
		if err := s.predictions.UpsertPrediction(ctx, prediction); err != nil {
			return nil, err
		}
	}

	return &assessment, nil
}
