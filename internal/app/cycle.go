package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Cycle executes a single monitoring cycle for one scope and prints the
// resulting summary.
func (a *App) Cycle(ctx context.Context, opts CycleOptions) error {
	if opts.Scope == "" {
		opts.Scope = "default"
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run a cycle")
	}
	if closeStore != nil {
		defer closeStore()
	}

	analyticsStore, closeAnalytics, err := a.openAnalytics()
	if err != nil {
		return err
	}
	defer closeAnalytics()

	svc := a.newService(store, analyticsStore, a.newDispatcher(a.newNotifier()))

	summary, err := svc.RunCycle(ctx, opts.Scope)
	if err != nil {
		return err
	}
	if summary == nil {
		fmt.Fprintln(os.Stdout, "cycle skipped: another process holds the lock")
		return nil
	}

	fmt.Fprintf(os.Stdout, "cycle %s (scope=%s) finished in %s\n", summary.CycleID, summary.ScopeID, summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "  items: %d processed, %d succeeded, %d failed\n", summary.ItemsProcessed, summary.ItemsSucceeded, summary.ItemsFailed)
	fmt.Fprintf(os.Stdout, "  alerts: %d generated, %d dispatched\n", summary.AlertsGenerated, summary.AlertsDispatched)
	fmt.Fprintf(os.Stdout, "  threats: %d identified\n", summary.ThreatsIdentified)
	for i, threat := range summary.TopThreats {
		fmt.Fprintf(os.Stdout, "  #%d %s p=%.2f expected=%.1f%%\n", i+1, threat.ASIN, threat.DropProbability, threat.ExpectedDropPct)
	}
	return nil
}
