package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"primepulse/internal/detector"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

// digestSize bounds how many ranked threats the digest carries.
const digestSize = 5

// Dispatcher applies per-cycle throttling and severity tiering before handing
// messages to the notification channel. Delivery failures are logged and
// never propagate: the cycle must not block on the channel.
type Dispatcher struct {
	notifier    Notifier
	maxPerCycle int
	logger      zerolog.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(notifier Notifier, maxPerCycle int, logger zerolog.Logger) *Dispatcher {
	if maxPerCycle <= 0 {
		maxPerCycle = 5
	}
	return &Dispatcher{
		notifier:    notifier,
		maxPerCycle: maxPerCycle,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch delivers the cycle's alerts and the ranked threat digest.
// Alerts beyond the per-cycle cap are truncated in insertion order; critical
// alerts are sent individually, the rest in one batch. The digest goes out
// regardless of the alert cap. Returns how many alerts were delivered to the
// channel (attempted, including failed sends).
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []storage.AlertRecord, threats []threat.Assessment, scopeName string) int {
	if d.notifier == nil {
		return 0
	}

	if len(alerts) > d.maxPerCycle {
		d.logger.Warn().Int("total", len(alerts)).Int("cap", d.maxPerCycle).
			Msg("alert volume exceeds per-cycle cap, truncating")
		alerts = alerts[:d.maxPerCycle]
	}

	var batch []storage.AlertRecord
	for _, alert := range alerts {
		if alert.Severity == detector.SeverityCritical {
			if err := d.notifier.SendAlert(ctx, alert); err != nil {
				d.logger.Error().Err(err).Str("asin", alert.ASIN).
					Msg("failed to send critical alert")
			}
			continue
		}
		batch = append(batch, alert)
	}

	if len(batch) > 0 {
		if err := d.notifier.SendBatch(ctx, batch); err != nil {
			d.logger.Error().Err(err).Int("count", len(batch)).
				Msg("failed to send alert batch")
		}
	}

	if len(threats) > 0 {
		top := threats
		if len(top) > digestSize {
			top = top[:digestSize]
		}
		if err := d.notifier.SendDigest(ctx, top, scopeName); err != nil {
			d.logger.Error().Err(err).Int("count", len(top)).
				Msg("failed to send threat digest")
		}
	}

	return len(alerts)
}

// SystemWarn forwards an operational notice to the channel, best effort.
func (d *Dispatcher) SystemWarn(ctx context.Context, message string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.SendSystem(ctx, message, "warning"); err != nil {
		d.logger.Error().Err(err).Msg("failed to send system notice")
	}
}
