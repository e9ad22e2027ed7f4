package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"primepulse/internal/alerting"
	"primepulse/internal/analytics"
	"primepulse/internal/config"
	"primepulse/internal/detector"
	"primepulse/internal/features"
	"primepulse/internal/fetcher"
	"primepulse/internal/scheduler"
	"primepulse/internal/service"
	"primepulse/internal/storage"
	"primepulse/internal/threat"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.BatchFetcher {
	cfg := a.Config.Fetch

	direct := fetcher.NewDirect(fetcher.DirectOptions{
		BaseURL:        cfg.ProductBaseURL,
		MaxConcurrent:  cfg.MaxConcurrent,
		Timeout:        cfg.RequestTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		ChunkDelayMin:  cfg.ChunkDelayMin,
		ChunkDelayMax:  cfg.ChunkDelayMax,
		UserAgents:     cfg.UserAgents,
	}, a.Logger)

	var delegate *fetcher.Delegate
	if cfg.WorkerURL != "" {
		delegate = fetcher.NewDelegate(fetcher.DelegateOptions{
			WorkerURL:     cfg.WorkerURL,
			MaxConcurrent: cfg.MaxConcurrent,
			Timeout:       cfg.RequestTimeout,
			Proxy: fetcher.ProxyCredentials{
				Username: cfg.Proxy.Username,
				Password: cfg.Proxy.Password,
				Endpoint: cfg.Proxy.Endpoint,
				Enabled:  cfg.Proxy.Enabled(),
			},
		}, a.Logger)
	}

	return fetcher.New(delegate, direct, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Slack.Enabled {
		cfg := a.Config.Alerting.Slack
		return alerting.NewSlackNotifier(cfg.WebhookURL, cfg.Channel, cfg.Username, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newDispatcher(notifier alerting.Notifier) *alerting.Dispatcher {
	if notifier == nil {
		return nil
	}
	return alerting.NewDispatcher(notifier, a.Config.Alerting.MaxPerCycle, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openAnalytics() (*analytics.Store, func(), error) {
	store, err := analytics.Open(a.Config.Analytics.Path)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, analyticsStore *analytics.Store, dispatcher *alerting.Dispatcher) *service.Service {
	det := detector.New(detector.Thresholds{
		DropThresholdPct: decimal.NewFromFloat(a.Config.Detection.DropThresholdPct),
		MinimumDiscount:  decimal.NewFromFloat(a.Config.Detection.MinimumDiscount),
	}, store, a.Logger)

	extractor := features.NewExtractor(analyticsStore, a.Logger)
	scorer := threat.NewScorer(analyticsStore, a.Logger)

	return service.New(
		store,
		store,
		a.newFetcher(),
		extractor,
		det,
		scorer,
		analyticsStore,
		dispatcher,
		store,
		service.Options{
			WindowDays:       a.Config.Detection.WindowDays,
			WindowPoints:     a.Config.Detection.WindowPoints,
			RefreshInterval:  a.Config.Detection.RefreshInterval,
			BatchLimit:       a.Config.Items.BatchLimit,
			FailureWarnRatio: a.Config.Alerting.FailureWarnRatio,
			LockKey:          a.Config.Scheduler.AdvisoryLockKey,
		},
		a.Logger,
	)
}

func (a *App) scopes() []string {
	if len(a.Config.Scheduler.Scopes) > 0 {
		return a.Config.Scheduler.Scopes
	}
	return []string{"default"}
}

// Run executes the long-running monitoring pipeline.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the pipeline")
	}
	if closeStore != nil {
		defer closeStore()
	}

	analyticsStore, closeAnalytics, err := a.openAnalytics()
	if err != nil {
		return err
	}
	defer closeAnalytics()

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting disabled; cycles will detect but not notify")
	}

	svc := a.newService(store, analyticsStore, a.newDispatcher(notifier))

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	scopes := a.scopes()
	a.Logger.Info().Strs("scopes", scopes).Msg("starting monitoring pipeline")
	if notifier != nil {
		if err := notifier.SendSystem(ctx, "PrimePulse pipeline started", "info"); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to send startup notice")
		}
	}

	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		// scopes run serially within one tick to bound outbound request volume
		for _, scope := range scopes {
			if _, err := svc.RunCycle(tickCtx, scope); err != nil {
				a.Logger.Error().Err(err).Str("scope", scope).Msg("cycle failed")
			}
			if tickCtx.Err() != nil {
				return tickCtx.Err()
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	if notifier != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := notifier.SendSystem(stopCtx, "PrimePulse pipeline stopped", "info"); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to send shutdown notice")
		}
	}

	a.Logger.Info().Msg("monitoring pipeline stopped")
	return nil
}

// ExportOptions hold parameters for exporting one item's observation history.
type ExportOptions struct {
	ItemID    int64
	Days      int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Scope string
	Limit int
}

// CycleOptions configure a one-shot cycle.
type CycleOptions struct {
	Scope string
}
