package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent alerts for one tracking scope.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Scope == "" {
		opts.Scope = "default"
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Scope, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tASIN\tKind\tSeverity\tPrice\tChange%\tAvailability\tTitle")

	for _, alert := range alerts {
		title := ""
		if alert.Title != nil {
			title = sanitizeInline(*alert.Title)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.ASIN,
			alert.Kind,
			alert.Severity,
			formatDecimal(alert.CurrentPrice, 2),
			formatDecimalPtr(alert.PriceChangePct, 2),
			alert.Availability,
			title,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatDecimalPtr(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
