package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"primepulse/internal/alerting"
	"primepulse/internal/analytics"
	"primepulse/internal/detector"
	"primepulse/internal/fetcher"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

type fakeItemStore struct {
	due      []storage.TrackedItem
	listErr  error
	observed []int64
}

func (f *fakeItemStore) ListDueItems(ctx context.Context, scopeID string, staleBefore time.Time, limit int) ([]storage.TrackedItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.due, nil
}

func (f *fakeItemStore) MarkObserved(ctx context.Context, itemID int64, observedAt time.Time) error {
	f.observed = append(f.observed, itemID)
	return nil
}

type fakeObservationStore struct {
	history   map[int64][]storage.Observation
	appendErr error
	appended  []storage.Observation
}

func (f *fakeObservationStore) Append(ctx context.Context, obs storage.Observation) (storage.Observation, error) {
	if f.appendErr != nil {
		return storage.Observation{}, f.appendErr
	}
	obs.ID = int64(len(f.appended) + 1)
	f.appended = append(f.appended, obs)
	// newest first, matching the repository's read order
	f.history[obs.ItemID] = append([]storage.Observation{obs}, f.history[obs.ItemID]...)
	return obs, nil
}

func (f *fakeObservationStore) RecentByItem(ctx context.Context, itemID int64, limit, windowDays int) ([]storage.Observation, error) {
	return f.history[itemID], nil
}

type fakeBatchFetcher struct {
	results []fetcher.Result
}

func (f *fakeBatchFetcher) FetchBatch(ctx context.Context, asins []string) []fetcher.Result {
	return f.results
}

type fakeExtractor struct {
	calls int
	err   error
}

func (f *fakeExtractor) Process(ctx context.Context, item storage.TrackedItem, history []storage.Observation) (*analytics.FeatureRow, error) {
	f.calls++
	return nil, f.err
}

type fakeFeatureStore struct {
	snapshots map[int64]*analytics.FeatureSnapshot
}

func (f *fakeFeatureStore) UpsertFeatures(ctx context.Context, row analytics.FeatureRow) error {
	return nil
}

func (f *fakeFeatureStore) WindowSnapshot(ctx context.Context, itemID int64, windowDays, windowPoints int) (*analytics.FeatureSnapshot, error) {
	return f.snapshots[itemID], nil
}

type fakeLocker struct {
	held     bool
	unlocked bool
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	return func() { f.unlocked = true }, true, nil
}

type countingNotifier struct {
	singles int
	batches int
	digests int
	systems []string
}

func (c *countingNotifier) SendAlert(ctx context.Context, alert storage.AlertRecord) error {
	c.singles++
	return nil
}

func (c *countingNotifier) SendBatch(ctx context.Context, alerts []storage.AlertRecord) error {
	c.batches++
	return nil
}

func (c *countingNotifier) SendDigest(ctx context.Context, threats []threat.Assessment, scopeName string) error {
	c.digests++
	return nil
}

func (c *countingNotifier) SendSystem(ctx context.Context, message, level string) error {
	c.systems = append(c.systems, message)
	return nil
}

var _ alerting.Notifier = (*countingNotifier)(nil)

type fixture struct {
	items    *fakeItemStore
	obs      *fakeObservationStore
	fetch    *fakeBatchFetcher
	extract  *fakeExtractor
	features *fakeFeatureStore
	notifier *countingNotifier
	locker   *fakeLocker
	svc      *Service
}

func trackedItem(id int64, asin string) storage.TrackedItem {
	return storage.TrackedItem{ID: id, ScopeID: "default", ASIN: asin, Active: true}
}

func seededObservation(itemID int64, price string, age time.Duration) storage.Observation {
	p := decimal.RequireFromString(price)
	return storage.Observation{
		ItemID:       itemID,
		CapturedAt:   time.Now().UTC().Add(-age),
		Price:        &p,
		Availability: storage.AvailabilityInStock,
		SellerCount:  1,
	}
}

func successResult(asin, price string) fetcher.Result {
	p := decimal.RequireFromString(price)
	return fetcher.Result{
		ASIN:    asin,
		Success: true,
		Product: &fetcher.Product{
			ASIN:         asin,
			Title:        "Example",
			Price:        &p,
			Availability: storage.AvailabilityInStock,
			SellerCount:  1,
		},
		FetchedAt: time.Now().UTC(),
	}
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		items:    &fakeItemStore{},
		obs:      &fakeObservationStore{history: make(map[int64][]storage.Observation)},
		fetch:    &fakeBatchFetcher{},
		extract:  &fakeExtractor{},
		features: &fakeFeatureStore{snapshots: make(map[int64]*analytics.FeatureSnapshot)},
		notifier: &countingNotifier{},
		locker:   &fakeLocker{},
	}

	det := detector.New(detector.Thresholds{
		DropThresholdPct: decimal.NewFromInt(10),
		MinimumDiscount:  decimal.NewFromInt(5),
	}, nil, zerolog.Nop())

	f.svc = New(
		f.items,
		f.obs,
		f.fetch,
		f.extract,
		det,
		threat.NewScorer(nil, zerolog.Nop()),
		f.features,
		alerting.NewDispatcher(f.notifier, 5, zerolog.Nop()),
		f.locker,
		opts,
		zerolog.Nop(),
	)
	return f
}

func TestRunCycleHappyPath(t *testing.T) {
	f := newFixture(Options{LockKey: 1})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B000000001")}
	f.obs.history[1] = []storage.Observation{seededObservation(1, "49.99", 2*time.Hour)}
	f.fetch.results = []fetcher.Result{successResult("B000000001", "39.99")}
	f.features.snapshots[1] = &analytics.FeatureSnapshot{
		ItemID:          1,
		PriceVolatility: 0.2,
		DropCount:       5,
		AvgPriceChange:  -8,
		DataPoints:      25,
	}

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}
	if summary == nil {
		t.Fatal("expected a summary")
	}

	if summary.ItemsProcessed != 1 || summary.ItemsSucceeded != 1 || summary.ItemsFailed != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.AlertsGenerated != 1 {
		t.Fatalf("expected 1 alert (price drop), got %d", summary.AlertsGenerated)
	}
	if summary.AlertsDispatched != 1 {
		t.Fatalf("expected 1 alert dispatched, got %d", summary.AlertsDispatched)
	}
	if summary.ThreatsIdentified != 1 || len(summary.TopThreats) != 1 {
		t.Fatalf("expected a threat assessment: %+v", summary)
	}
	if summary.TopThreats[0].DropProbability != 0.75 {
		t.Fatalf("drop probability = %f, want 0.75", summary.TopThreats[0].DropProbability)
	}

	if len(f.obs.appended) != 1 {
		t.Fatalf("expected 1 observation appended, got %d", len(f.obs.appended))
	}
	if len(f.items.observed) != 1 || f.items.observed[0] != 1 {
		t.Fatalf("item should be marked observed: %v", f.items.observed)
	}
	if f.extract.calls != 1 {
		t.Fatalf("extractor calls = %d", f.extract.calls)
	}
	if f.notifier.batches != 1 || f.notifier.digests != 1 {
		t.Fatalf("expected batch and digest sends: %+v", f.notifier)
	}
	if !f.locker.unlocked {
		t.Fatal("advisory lock should be released")
	}
}

func TestRunCycleFetchFailureIsolation(t *testing.T) {
	f := newFixture(Options{})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B1"), trackedItem(2, "B2")}
	f.obs.history[2] = []storage.Observation{seededObservation(2, "20.00", 2*time.Hour)}
	f.fetch.results = []fetcher.Result{
		{ASIN: "B1", Err: "timeout", FetchedAt: time.Now().UTC()},
		successResult("B2", "20.00"),
	}

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}

	if summary.ItemsProcessed != 2 || summary.ItemsSucceeded != 1 || summary.ItemsFailed != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(f.obs.appended) != 1 || f.obs.appended[0].ItemID != 2 {
		t.Fatalf("only the successful item should persist: %+v", f.obs.appended)
	}
	if len(f.items.observed) != 1 || f.items.observed[0] != 2 {
		t.Fatalf("only the successful item should be marked: %v", f.items.observed)
	}
}

func TestRunCycleElevatedFailureWarning(t *testing.T) {
	f := newFixture(Options{FailureWarnRatio: 0.5})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B1"), trackedItem(2, "B2")}
	f.fetch.results = []fetcher.Result{
		{ASIN: "B1", Err: "timeout", FetchedAt: time.Now().UTC()},
		{ASIN: "B2", Err: "captcha", FetchedAt: time.Now().UTC()},
	}

	if _, err := f.svc.RunCycle(context.Background(), "default"); err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}
	if len(f.notifier.systems) != 1 {
		t.Fatalf("expected one system warning, got %d", len(f.notifier.systems))
	}
}

func TestRunCycleBelowWarnRatioStaysQuiet(t *testing.T) {
	f := newFixture(Options{FailureWarnRatio: 0.5})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B1"), trackedItem(2, "B2"), trackedItem(3, "B3")}
	f.obs.history[2] = []storage.Observation{seededObservation(2, "20.00", 2*time.Hour)}
	f.obs.history[3] = []storage.Observation{seededObservation(3, "30.00", 2*time.Hour)}
	f.fetch.results = []fetcher.Result{
		{ASIN: "B1", Err: "timeout", FetchedAt: time.Now().UTC()},
		successResult("B2", "20.00"),
		successResult("B3", "30.00"),
	}

	if _, err := f.svc.RunCycle(context.Background(), "default"); err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}
	if len(f.notifier.systems) != 0 {
		t.Fatalf("one failure in three is below the ratio: %v", f.notifier.systems)
	}
}

func TestRunCycleFirstObservationProducesNothing(t *testing.T) {
	f := newFixture(Options{})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B1")}
	f.fetch.results = []fetcher.Result{successResult("B1", "15.00")}

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}

	if summary.ItemsSucceeded != 1 {
		t.Fatalf("observation should persist: %+v", summary)
	}
	if summary.AlertsGenerated != 0 || summary.ThreatsIdentified != 0 {
		t.Fatalf("single observation must not alert or score: %+v", summary)
	}
	if f.extract.calls != 0 {
		t.Fatal("extractor must not run with fewer than two observations")
	}
}

func TestRunCycleLockHeldElsewhere(t *testing.T) {
	f := newFixture(Options{LockKey: 1})
	f.locker.held = true

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("held lock is not an error: %v", err)
	}
	if summary != nil {
		t.Fatalf("held lock should skip the cycle, got %+v", summary)
	}
}

func TestRunCycleListFailureIsFatal(t *testing.T) {
	f := newFixture(Options{})
	f.items.listErr = errors.New("db down")

	if _, err := f.svc.RunCycle(context.Background(), "default"); err == nil {
		t.Fatal("due-item query failure must be fatal")
	}
}

func TestRunCycleNoDueItems(t *testing.T) {
	f := newFixture(Options{})

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}
	if summary == nil || summary.ItemsProcessed != 0 {
		t.Fatalf("empty scope should yield an empty summary: %+v", summary)
	}
}

func TestRunCycleThreatsSortedByProbability(t *testing.T) {
	f := newFixture(Options{})

	f.items.due = []storage.TrackedItem{trackedItem(1, "B1"), trackedItem(2, "B2")}
	f.obs.history[1] = []storage.Observation{seededObservation(1, "10.00", 2*time.Hour)}
	f.obs.history[2] = []storage.Observation{seededObservation(2, "20.00", 2*time.Hour)}
	f.fetch.results = []fetcher.Result{
		successResult("B1", "10.00"),
		successResult("B2", "20.00"),
	}
	f.features.snapshots[1] = &analytics.FeatureSnapshot{ItemID: 1, CouponFlips: 1, DataPoints: 10}
	f.features.snapshots[2] = &analytics.FeatureSnapshot{ItemID: 2, PriceVolatility: 0.3, DropCount: 6, DataPoints: 10}

	summary, err := f.svc.RunCycle(context.Background(), "default")
	if err != nil {
		t.Fatalf("RunCycle should succeed: %v", err)
	}

	if len(summary.TopThreats) != 2 {
		t.Fatalf("expected 2 threats, got %d", len(summary.TopThreats))
	}
	if summary.TopThreats[0].ItemID != 2 {
		t.Fatalf("threats should rank by probability: %+v", summary.TopThreats)
	}
}
