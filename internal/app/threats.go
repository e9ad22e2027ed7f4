package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// ThreatsOptions configure the threats command.
type ThreatsOptions struct {
	Limit int
}

// Threats prints the current ranking of predicted price-drop candidates.
func (a *App) Threats(ctx context.Context, opts ThreatsOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	store, closeStore, err := a.openAnalytics()
	if err != nil {
		return err
	}
	defer closeStore()

	window := a.Config.Analytics.RecencyWindow
	if window <= 0 {
		window = 4 * time.Hour
	}

	predictions, err := store.TopPredictions(ctx, opts.Limit, window)
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		fmt.Fprintln(os.Stdout, "no recent predictions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tASIN\tProbability\tExpected Drop%\tConfidence\tPrice\tScored At (UTC)")

	for i, p := range predictions {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%.2f\t%.1f\t%.2f\t%.2f\t%s\n",
			i+1,
			p.ASIN,
			p.DropProbability,
			p.ExpectedDropPct,
			p.Confidence,
			p.CurrentPrice,
			p.Timestamp.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}
