package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"primepulse/internal/storage"
)

// Export renders one item's observation history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ItemID <= 0 {
		return errors.New("--item is required")
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -opts.Days)

	observations, err := store.ObservationsBetween(ctx, opts.ItemID, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Info().Int64("item_id", opts.ItemID).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().Int("total", len(observations)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeObservationsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleObservations(observations []storage.Observation, max int) []storage.Observation {
	if max <= 0 || len(observations) <= max {
		return observations
	}

	result := make([]storage.Observation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(observations) {
			idx = len(observations) - 1
		}
		result = append(result, observations[idx])
	}
	return result
}

func writeObservationsCSV(path string, observations []storage.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"captured_at", "price", "list_price", "discount_pct", "has_coupon", "coupon_amount", "seller_count", "availability", "prime_eligible"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range observations {
		record := []string{
			obs.CapturedAt.Format(time.RFC3339),
			decimalPtrString(obs.Price),
			decimalPtrString(obs.ListPrice),
			decimalPtrString(obs.DiscountPct),
			strconv.FormatBool(obs.HasCoupon),
			obs.CouponAmount.String(),
			strconv.Itoa(obs.SellerCount),
			obs.Availability,
			strconv.FormatBool(obs.PrimeEligible),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeObservationsPNG(path string, observations []storage.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(observations))
	price := make([]float64, len(observations))
	discount := make([]float64, len(observations))

	for i, obs := range observations {
		x[i] = obs.CapturedAt
		price[i] = obs.PriceValue().InexactFloat64()
		if obs.DiscountPct != nil {
			discount[i] = obs.DiscountPct.InexactFloat64()
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Discount (%)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Discount %",
				XValues: x,
				YValues: discount,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func decimalPtrString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
