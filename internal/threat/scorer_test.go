package threat

import (
	"math"
	"testing"
	"time"

	"primepulse/internal/analytics"
)

func baseSnapshot() analytics.FeatureSnapshot {
	return analytics.FeatureSnapshot{
		ItemID:     1,
		DataPoints: 25,
	}
}

func TestScoreQuietItem(t *testing.T) {
	assessment := Score(baseSnapshot(), 19.99, time.Now())
	if assessment.DropProbability != 0 {
		t.Fatalf("quiet item should score 0, got %f", assessment.DropProbability)
	}
	if assessment.ExpectedDropPct != 0 {
		t.Fatalf("expected drop should be 0, got %f", assessment.ExpectedDropPct)
	}
}

func TestScoreIndicatorContributions(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*analytics.FeatureSnapshot)
		expected float64
	}{
		{"volatility", func(s *analytics.FeatureSnapshot) { s.PriceVolatility = 0.15 }, 0.30},
		{"drop count", func(s *analytics.FeatureSnapshot) { s.DropCount = 4 }, 0.20},
		{"coupon flips", func(s *analytics.FeatureSnapshot) { s.CouponFlips = 1 }, 0.15},
		{"avg change", func(s *analytics.FeatureSnapshot) { s.AvgPriceChange = -6 }, 0.25},
		{"max increase", func(s *analytics.FeatureSnapshot) { s.MaxIncreasePct = 20 }, 0.10},
	}

	for _, tc := range cases {
		snapshot := baseSnapshot()
		tc.mutate(&snapshot)
		got := Score(snapshot, 10, time.Now()).DropProbability
		if math.Abs(got-tc.expected) > 1e-9 {
			t.Fatalf("%s: probability = %f, want %f", tc.name, got, tc.expected)
		}
	}
}

func TestScoreIndicatorBoundariesExclusive(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.PriceVolatility = 0.1
	snapshot.DropCount = 3
	snapshot.AvgPriceChange = -5
	snapshot.MaxIncreasePct = 15

	if got := Score(snapshot, 10, time.Now()).DropProbability; got != 0 {
		t.Fatalf("boundary values must not contribute, got %f", got)
	}
}

func TestScoreAllIndicators(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.PriceVolatility = 0.15
	snapshot.DropCount = 4
	snapshot.CouponFlips = 1
	snapshot.AvgPriceChange = -6
	snapshot.MaxIncreasePct = 20

	got := Score(snapshot, 10, time.Now()).DropProbability
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("all indicators should sum to 1.0, got %f", got)
	}
}

func TestScoreExpectedDropCapped(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.AvgPriceChange = -80
	snapshot.MaxDropPct = -90

	got := Score(snapshot, 10, time.Now()).ExpectedDropPct
	if got != 50 {
		t.Fatalf("expected drop must cap at 50, got %f", got)
	}
}

func TestScoreExpectedDropAverages(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.AvgPriceChange = -10
	snapshot.MaxDropPct = -30

	got := Score(snapshot, 10, time.Now()).ExpectedDropPct
	if math.Abs(got-20) > 1e-9 {
		t.Fatalf("expected (10+30)/2 = 20, got %f", got)
	}
}

func TestConfidenceBuckets(t *testing.T) {
	cases := []struct {
		points   int
		expected float64
	}{
		{0, 0.3},
		{4, 0.3},
		{5, 0.6},
		{19, 0.6},
		{20, 0.8},
		{49, 0.8},
		{50, 0.9},
		{500, 0.9},
	}

	for _, tc := range cases {
		snapshot := baseSnapshot()
		snapshot.DataPoints = tc.points
		got := Score(snapshot, 10, time.Now()).Confidence
		if got != tc.expected {
			t.Fatalf("confidence(%d) = %f, want %f", tc.points, got, tc.expected)
		}
	}
}

func TestScoreTimestampUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2025, 6, 1, 20, 0, 0, 0, loc)

	assessment := Score(baseSnapshot(), 10, at)
	if assessment.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp should be UTC, got %v", assessment.Timestamp.Location())
	}
	if assessment.Timestamp.Hour() != 12 {
		t.Fatalf("expected 12:00 UTC, got %v", assessment.Timestamp)
	}
}
