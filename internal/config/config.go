package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"primepulse/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Detection DetectionConfig `mapstructure:"detection"`
	Items     ItemsConfig     `mapstructure:"items"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// AnalyticsConfig locates the embedded feature/prediction store.
type AnalyticsConfig struct {
	Path          string        `mapstructure:"path"`
	RecencyWindow time.Duration `mapstructure:"recency_window"`
}

// SchedulerConfig governs crawl cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Scopes          []string      `mapstructure:"scopes"`
}

// FetchConfig parameterises observation acquisition.
type FetchConfig struct {
	WorkerURL      string         `mapstructure:"worker_url"`
	MaxConcurrent  int            `mapstructure:"max_concurrent"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	RetryAttempts  int            `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration  `mapstructure:"retry_base_delay"`
	ChunkDelayMin  time.Duration  `mapstructure:"chunk_delay_min"`
	ChunkDelayMax  time.Duration  `mapstructure:"chunk_delay_max"`
	ProductBaseURL string         `mapstructure:"product_base_url"`
	Proxy          ProxyConfig    `mapstructure:"proxy"`
	UserAgents     []string       `mapstructure:"user_agents"`
}

// ProxyConfig carries upstream proxy credentials forwarded to the fetch delegate.
type ProxyConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Endpoint string `mapstructure:"endpoint"`
}

// Enabled reports whether proxy credentials are fully configured.
func (p ProxyConfig) Enabled() bool {
	return p.Username != "" && p.Password != ""
}

// DetectionConfig defines alert thresholds and the feature window.
type DetectionConfig struct {
	DropThresholdPct float64       `mapstructure:"drop_threshold_pct"`
	MinimumDiscount  float64       `mapstructure:"minimum_discount"`
	WindowDays       int           `mapstructure:"window_days"`
	WindowPoints     int           `mapstructure:"window_points"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
}

// ItemsConfig bounds the per-cycle workload.
type ItemsConfig struct {
	BatchLimit int `mapstructure:"batch_limit"`
}

// AlertingConfig defines alert routing and throttling.
type AlertingConfig struct {
	Enabled          bool        `mapstructure:"enabled"`
	MaxPerCycle      int         `mapstructure:"max_per_cycle"`
	FailureWarnRatio float64     `mapstructure:"failure_warn_ratio"`
	Slack            SlackConfig `mapstructure:"slack"`
}

// SlackConfig 描述 Slack 告警参数。
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Username   string `mapstructure:"username"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRIMEPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "primepulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("analytics.path", "data/analytics.db")
	v.SetDefault("analytics.recency_window", "4h")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70707531))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("fetch.worker_url", "http://localhost:8787")
	v.SetDefault("fetch.max_concurrent", 10)
	v.SetDefault("fetch.request_timeout", "30s")
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("fetch.retry_base_delay", "1s")
	v.SetDefault("fetch.chunk_delay_min", "2s")
	v.SetDefault("fetch.chunk_delay_max", "5s")
	v.SetDefault("fetch.product_base_url", "https://www.amazon.com/dp/")
	v.SetDefault("fetch.proxy.endpoint", "zproxy.lum-superproxy.io:22225")

	v.SetDefault("detection.drop_threshold_pct", 10.0)
	v.SetDefault("detection.minimum_discount", 5.0)
	v.SetDefault("detection.window_days", 7)
	v.SetDefault("detection.window_points", 50)
	v.SetDefault("detection.refresh_interval", "2h")

	v.SetDefault("items.batch_limit", 1000)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.max_per_cycle", 5)
	v.SetDefault("alerting.failure_warn_ratio", 0.5)
	v.SetDefault("alerting.slack.enabled", false)
	v.SetDefault("alerting.slack.channel", "#price-alerts")
	v.SetDefault("alerting.slack.username", "PrimePulse Bot")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Fetch.MaxConcurrent <= 0 {
		return fmt.Errorf("fetch.max_concurrent must be greater than zero")
	}
	if c.Fetch.RetryAttempts <= 0 {
		return fmt.Errorf("fetch.retry_attempts must be greater than zero")
	}
	if c.Fetch.ChunkDelayMax < c.Fetch.ChunkDelayMin {
		return fmt.Errorf("fetch.chunk_delay_max must not be below fetch.chunk_delay_min")
	}
	if c.Detection.DropThresholdPct <= 0 {
		return fmt.Errorf("detection.drop_threshold_pct must be greater than zero")
	}
	if c.Detection.MinimumDiscount < 0 {
		return fmt.Errorf("detection.minimum_discount cannot be negative")
	}
	if c.Detection.WindowDays <= 0 || c.Detection.WindowPoints <= 0 {
		return fmt.Errorf("detection window must be positive")
	}
	if c.Items.BatchLimit <= 0 {
		return fmt.Errorf("items.batch_limit must be greater than zero")
	}
	if c.Alerting.MaxPerCycle <= 0 {
		return fmt.Errorf("alerting.max_per_cycle must be greater than zero")
	}
	if c.Alerting.Slack.Enabled {
		if c.Alerting.Slack.WebhookURL == "" {
			return fmt.Errorf("alerting.slack.webhook_url 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
