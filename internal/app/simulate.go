package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"primepulse/internal/alerting"
	"primepulse/internal/detector"
	"primepulse/internal/storage"
)

// SimulateOptions 描述一次模拟告警的价格变化。
type SimulateOptions struct {
	PreviousPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	CouponAmount  decimal.Decimal
	BackInStock   bool
}

// SimulateAlert 用合成的前后两次观测跑一遍检测与告警链路。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	title := "Simulated product"
	item := storage.TrackedItem{
		ID:      -1,
		ScopeID: "simulate",
		ASIN:    "B000000000",
		Title:   &title,
		Active:  true,
	}

	previousAvailability := storage.AvailabilityInStock
	if opts.BackInStock {
		previousAvailability = storage.AvailabilityOutOfStock
	}

	previous := storage.Observation{
		ItemID:       item.ID,
		CapturedAt:   now.Add(-time.Hour),
		Price:        &opts.PreviousPrice,
		Availability: previousAvailability,
		SellerCount:  1,
	}
	latest := storage.Observation{
		ItemID:       item.ID,
		CapturedAt:   now,
		Price:        &opts.CurrentPrice,
		HasCoupon:    opts.CouponAmount.IsPositive(),
		CouponAmount: opts.CouponAmount,
		Availability: storage.AvailabilityInStock,
		SellerCount:  1,
	}

	det := detector.New(detector.Thresholds{
		DropThresholdPct: decimal.NewFromFloat(a.Config.Detection.DropThresholdPct),
		MinimumDiscount:  decimal.NewFromFloat(a.Config.Detection.MinimumDiscount),
	}, nil, a.Logger)

	alerts := det.Detect(ctx, item, latest, previous)
	if len(alerts) == 0 {
		a.Logger.Info().Msg("模拟未触发任何告警")
		return nil
	}

	dispatcher := alerting.NewDispatcher(notifier, a.Config.Alerting.MaxPerCycle, a.Logger)
	sent := dispatcher.Dispatch(ctx, alerts, nil, "simulate")
	a.Logger.Info().Int("alerts", len(alerts)).Int("sent", sent).Msg("模拟告警已发送")
	return nil
}
