package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"primepulse/internal/alerting"
	"primepulse/internal/analytics"
	"primepulse/internal/detector"
	"primepulse/internal/fetcher"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

// topThreatCount bounds how many ranked threats a summary carries.
const topThreatCount = 5

// Options tune cycle behaviour.
type Options struct {
	WindowDays       int
	WindowPoints     int
	RefreshInterval  time.Duration
	BatchLimit       int
	FailureWarnRatio float64
	LockKey          int64
}

// Summary reports one completed cycle back to the trigger.
type Summary struct {
	CycleID           string
	ScopeID           string
	StartedAt         time.Time
	Duration          time.Duration
	ItemsProcessed    int
	ItemsSucceeded    int
	ItemsFailed       int
	AlertsGenerated   int
	AlertsDispatched  int
	ThreatsIdentified int
	TopThreats        []threat.Assessment
}

// Extractor is the feature-extraction stage consumed by the cycle.
type Extractor interface {
	Process(ctx context.Context, item storage.TrackedItem, history []storage.Observation) (*analytics.FeatureRow, error)
}

// Service orchestrates one fetch → persist → detect/score → dispatch cycle
// per tracking scope.
type Service struct {
	items        storage.ItemStore
	observations storage.ObservationStore
	fetcher      fetcher.BatchFetcher
	extractor    Extractor
	detector     *detector.Detector
	scorer       *threat.Scorer
	features     analytics.FeatureStore
	dispatcher   *alerting.Dispatcher
	locker       storage.AdvisoryLocker
	opts         Options
	logger       zerolog.Logger
}

// New constructs the pipeline service.
func New(
	items storage.ItemStore,
	observations storage.ObservationStore,
	batchFetcher fetcher.BatchFetcher,
	extractor Extractor,
	det *detector.Detector,
	scorer *threat.Scorer,
	featureStore analytics.FeatureStore,
	dispatcher *alerting.Dispatcher,
	locker storage.AdvisoryLocker,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	if opts.WindowPoints <= 0 {
		opts.WindowPoints = 50
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 2 * time.Hour
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 1000
	}

	return &Service{
		items:        items,
		observations: observations,
		fetcher:      batchFetcher,
		extractor:    extractor,
		detector:     det,
		scorer:       scorer,
		features:     featureStore,
		dispatcher:   dispatcher,
		locker:       locker,
		opts:         opts,
		logger:       logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle executes one full cycle for a tracking scope. Only the due-item
// query is fatal; every per-item failure is recovered and reported in the
// summary. Returns a nil summary when another process holds the cycle lock.
func (s *Service) RunCycle(ctx context.Context, scopeID string) (*Summary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Str("scope", scopeID).Msg("skip cycle because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary := &Summary{
		CycleID:   uuid.NewString(),
		ScopeID:   scopeID,
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With().Str("cycle_id", summary.CycleID).Str("scope", scopeID).Logger()

	staleBefore := summary.StartedAt.Add(-s.opts.RefreshInterval)
	due, err := s.items.ListDueItems(ctx, scopeID, staleBefore, s.opts.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	if len(due) == 0 {
		logger.Info().Msg("no items due for refresh")
		summary.Duration = time.Since(summary.StartedAt)
		return summary, nil
	}

	asins := make([]string, len(due))
	for i, item := range due {
		asins[i] = item.ASIN
	}

	logger.Info().Int("items", len(due)).Msg("starting cycle")
	results := s.fetcher.FetchBatch(ctx, asins)

	var alerts []storage.AlertRecord
	var threats []threat.Assessment

	for i, item := range due {
		summary.ItemsProcessed++

		result := results[i]
		if !result.Success {
			summary.ItemsFailed++
			logger.Warn().Str("asin", item.ASIN).Str("error", result.Err).
				Msg("fetch failed for item")
			continue
		}

		if err := s.persistObservation(ctx, item, result); err != nil {
			summary.ItemsFailed++
			logger.Error().Err(err).Str("asin", item.ASIN).Msg("failed to persist observation")
			continue
		}
		summary.ItemsSucceeded++

		itemAlerts, assessment, err := s.processItem(ctx, item)
		if err != nil {
			logger.Error().Err(err).Str("asin", item.ASIN).
				Msg("item pipeline failed, skipping for this cycle")
			continue
		}

		alerts = append(alerts, itemAlerts...)
		if assessment != nil {
			threats = append(threats, *assessment)
		}
	}

	sort.SliceStable(threats, func(a, b int) bool {
		return threats[a].DropProbability > threats[b].DropProbability
	})

	summary.AlertsGenerated = len(alerts)
	summary.ThreatsIdentified = len(threats)
	if len(threats) > topThreatCount {
		summary.TopThreats = threats[:topThreatCount]
	} else {
		summary.TopThreats = threats
	}

	if s.dispatcher != nil {
		summary.AlertsDispatched = s.dispatcher.Dispatch(ctx, alerts, threats, scopeID)
		s.warnOnElevatedFailures(ctx, summary)
	}

	summary.Duration = time.Since(summary.StartedAt)
	logger.Info().
		Int("processed", summary.ItemsProcessed).
		Int("succeeded", summary.ItemsSucceeded).
		Int("failed", summary.ItemsFailed).
		Int("alerts", summary.AlertsGenerated).
		Int("threats", summary.ThreatsIdentified).
		Dur("duration", summary.Duration).
		Msg("cycle completed")

	return summary, nil
}

func (s *Service) persistObservation(ctx context.Context, item storage.TrackedItem, result fetcher.Result) error {
	obs := observationFromProduct(item, result)
	if _, err := s.observations.Append(ctx, obs); err != nil {
		return err
	}
	if err := s.items.MarkObserved(ctx, item.ID, result.FetchedAt); err != nil {
		// the observation row is already safe; staleness just resurfaces the item
		s.logger.Error().Err(err).Str("asin", item.ASIN).Msg("failed to mark item observed")
	}
	return nil
}

// processItem runs extract → detect → score over the item's fresh history.
func (s *Service) processItem(ctx context.Context, item storage.TrackedItem) ([]storage.AlertRecord, *threat.Assessment, error) {
	history, err := s.observations.RecentByItem(ctx, item.ID, s.opts.WindowPoints, s.opts.WindowDays)
	if err != nil {
		return nil, nil, fmt.Errorf("load observation history: %w", err)
	}
	if len(history) < 2 {
		return nil, nil, nil
	}

	if _, err := s.extractor.Process(ctx, item, history); err != nil {
		return nil, nil, fmt.Errorf("extract features: %w", err)
	}

	alerts := s.detector.Detect(ctx, item, history[0], history[1])

	snapshot, err := s.features.WindowSnapshot(ctx, item.ID, s.opts.WindowDays, s.opts.WindowPoints)
	if err != nil {
		return alerts, nil, fmt.Errorf("load feature snapshot: %w", err)
	}

	assessment, err := s.scorer.Assess(ctx, item, snapshot, history[0].PriceValue())
	if err != nil {
		return alerts, nil, fmt.Errorf("score threat: %w", err)
	}

	return alerts, assessment, nil
}

func (s *Service) warnOnElevatedFailures(ctx context.Context, summary *Summary) {
	if s.opts.FailureWarnRatio <= 0 || summary.ItemsProcessed == 0 {
		return
	}
	ratio := float64(summary.ItemsFailed) / float64(summary.ItemsProcessed)
	if ratio < s.opts.FailureWarnRatio {
		return
	}
	s.dispatcher.SystemWarn(ctx, fmt.Sprintf(
		"Elevated fetch failure rate for scope %s: %d of %d items failed this cycle",
		summary.ScopeID, summary.ItemsFailed, summary.ItemsProcessed,
	))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func observationFromProduct(item storage.TrackedItem, result fetcher.Result) storage.Observation {
	product := result.Product

	obs := storage.Observation{
		ItemID:        item.ID,
		CapturedAt:    result.FetchedAt,
		Price:         product.Price,
		ListPrice:     product.ListPrice,
		DiscountPct:   product.DiscountPct,
		HasCoupon:     product.HasCoupon,
		CouponAmount:  product.CouponAmount,
		SellerCount:   product.SellerCount,
		Availability:  product.Availability,
		PrimeEligible: product.PrimeEligible,
		Rating:        product.Rating,
		ReviewCount:   product.ReviewCount,
	}
	if obs.SellerCount <= 0 {
		obs.SellerCount = 1
	}
	if obs.Availability == "" {
		obs.Availability = storage.AvailabilityUnknown
	}
	if product.SellerName != "" {
		seller := product.SellerName
		obs.SellerName = &seller
	}
	return obs
}
