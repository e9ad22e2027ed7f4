package alerting

import (
	"context"
	"errors"
	"testing"

	"primepulse/internal/detector"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

type recordingNotifier struct {
	singles  []storage.AlertRecord
	batches  [][]storage.AlertRecord
	digests  [][]threat.Assessment
	systems  []string
	failNext bool
}

func (r *recordingNotifier) SendAlert(ctx context.Context, alert storage.AlertRecord) error {
	if r.failNext {
		return errors.New("boom")
	}
	r.singles = append(r.singles, alert)
	return nil
}

func (r *recordingNotifier) SendBatch(ctx context.Context, alerts []storage.AlertRecord) error {
	if r.failNext {
		return errors.New("boom")
	}
	r.batches = append(r.batches, alerts)
	return nil
}

func (r *recordingNotifier) SendDigest(ctx context.Context, threats []threat.Assessment, scopeName string) error {
	if r.failNext {
		return errors.New("boom")
	}
	r.digests = append(r.digests, threats)
	return nil
}

func (r *recordingNotifier) SendSystem(ctx context.Context, message, level string) error {
	r.systems = append(r.systems, message)
	return nil
}

var _ Notifier = (*recordingNotifier)(nil)

func makeAlerts(severities ...string) []storage.AlertRecord {
	alerts := make([]storage.AlertRecord, 0, len(severities))
	for i, severity := range severities {
		alert := sampleAlert(detector.KindPriceDrop, severity)
		alert.ItemID = int64(i + 1)
		alerts = append(alerts, alert)
	}
	return alerts
}

func TestDispatchTruncatesToCap(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, 5, testLogger())

	alerts := makeAlerts(
		detector.SeverityLow, detector.SeverityMedium, detector.SeverityLow,
		detector.SeverityHigh, detector.SeverityLow, detector.SeverityMedium,
		detector.SeverityLow, detector.SeverityHigh,
	)

	sent := dispatcher.Dispatch(context.Background(), alerts, nil, "default")
	if sent != 5 {
		t.Fatalf("expected 5 dispatched, got %d", sent)
	}
	if len(notifier.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(notifier.batches))
	}
	batch := notifier.batches[0]
	if len(batch) != 5 {
		t.Fatalf("expected 5 alerts in batch, got %d", len(batch))
	}
	// truncation preserves insertion order
	for i, alert := range batch {
		if alert.ItemID != int64(i+1) {
			t.Fatalf("alert %d out of order: item %d", i, alert.ItemID)
		}
	}
}

func TestDispatchCriticalsSentIndividually(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, 5, testLogger())

	alerts := makeAlerts(detector.SeverityCritical, detector.SeverityLow, detector.SeverityCritical)

	sent := dispatcher.Dispatch(context.Background(), alerts, nil, "default")
	if sent != 3 {
		t.Fatalf("expected 3 dispatched, got %d", sent)
	}
	if len(notifier.singles) != 2 {
		t.Fatalf("expected 2 individual sends, got %d", len(notifier.singles))
	}
	if len(notifier.batches) != 1 || len(notifier.batches[0]) != 1 {
		t.Fatalf("expected one batch with one alert, got %#v", notifier.batches)
	}
}

func TestDispatchDigestUnaffectedByCap(t *testing.T) {
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, 2, testLogger())

	alerts := makeAlerts(detector.SeverityLow, detector.SeverityLow, detector.SeverityLow)
	threats := make([]threat.Assessment, 7)
	for i := range threats {
		threats[i] = threat.Assessment{ItemID: int64(i), ASIN: "B0000000", DropProbability: 0.9 - float64(i)*0.1}
	}

	sent := dispatcher.Dispatch(context.Background(), alerts, threats, "default")
	if sent != 2 {
		t.Fatalf("expected 2 dispatched, got %d", sent)
	}
	if len(notifier.digests) != 1 {
		t.Fatalf("expected digest to be sent, got %d", len(notifier.digests))
	}
	if len(notifier.digests[0]) != 5 {
		t.Fatalf("digest should carry top 5, got %d", len(notifier.digests[0]))
	}
}

func TestDispatchFailuresDoNotPropagate(t *testing.T) {
	notifier := &recordingNotifier{failNext: true}
	dispatcher := NewDispatcher(notifier, 5, testLogger())

	alerts := makeAlerts(detector.SeverityCritical, detector.SeverityLow)
	threats := []threat.Assessment{{ItemID: 1, ASIN: "B0000000"}}

	sent := dispatcher.Dispatch(context.Background(), alerts, threats, "default")
	if sent != 2 {
		t.Fatalf("failed sends still count as attempted, got %d", sent)
	}
}

func TestDispatchNilNotifier(t *testing.T) {
	dispatcher := NewDispatcher(nil, 5, testLogger())
	if sent := dispatcher.Dispatch(context.Background(), makeAlerts(detector.SeverityLow), nil, "default"); sent != 0 {
		t.Fatalf("nil notifier should send nothing, got %d", sent)
	}
}
