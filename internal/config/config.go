package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Config holds every tunable of the trading service. All values are read
// once at startup; the engine receives the struct, never viper itself.
type Config struct {
	PrimaryBroker  types.Broker `mapstructure:"primary_broker"`
	FallbackBroker types.Broker `mapstructure:"fallback_broker"`

	LargeOrderThreshold    int64 `mapstructure:"large_order_threshold"`
	MaxSingleOrderQuantity int64 `mapstructure:"max_single_order_quantity"`
	MaxNotionalINR         int64 `mapstructure:"max_notional_inr"`

	SLAPlaceMs  int64 `mapstructure:"sla_place_ms"`
	SLAModifyMs int64 `mapstructure:"sla_modify_ms"`
	SLACancelMs int64 `mapstructure:"sla_cancel_ms"`

	Circuit CircuitConfig `mapstructure:"circuit"`
	Broker  BrokerConfig  `mapstructure:"broker"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Features  FeatureFlags    `mapstructure:"features"`

	NATSURL     string `mapstructure:"nats_url"`
	JournalDir  string `mapstructure:"journal_dir"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`

	// MarketHolidays are exchange holidays (YYYY-MM-DD, IST) used by the
	// day-order expiry sweep. Sourced from exchange calendars, not guessed.
	MarketHolidays []string `mapstructure:"market_holidays"`
}

// CircuitConfig tunes the per-broker circuit breakers
type CircuitConfig struct {
	FailureThreshold  uint32        `mapstructure:"failure_threshold"`
	OpenDuration      time.Duration `mapstructure:"open_duration"`
	HalfOpenProbes    uint32        `mapstructure:"half_open_probes"`
	RollingWindow     time.Duration `mapstructure:"rolling_window"`
	FailureRateMin    uint32        `mapstructure:"failure_rate_min_requests"`
	FailureRatePct    float64       `mapstructure:"failure_rate_threshold"`
}

// BrokerConfig tunes outbound broker call deadlines
type BrokerConfig struct {
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	ModifyTimeout time.Duration `mapstructure:"modify_timeout"`
	CancelTimeout time.Duration `mapstructure:"cancel_timeout"`
}

// SchedulerConfig tunes the periodic background tasks
type SchedulerConfig struct {
	ExpirySweepInterval     time.Duration `mapstructure:"expiry_sweep_interval"`
	HealthProbeInterval     time.Duration `mapstructure:"health_probe_interval"`
	CancelReconcileInterval time.Duration `mapstructure:"cancel_reconcile_interval"`
	CancelReconcileAge      time.Duration `mapstructure:"cancel_reconcile_age"`
}

// FeatureFlags gates optional request fields
type FeatureFlags struct {
	AdvancedOrders bool `mapstructure:"advanced_orders"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("primary_broker", string(types.BrokerZerodha))
	v.SetDefault("fallback_broker", string(types.BrokerUpstox))
	v.SetDefault("large_order_threshold", 10_000)
	v.SetDefault("max_single_order_quantity", 100_000)
	v.SetDefault("max_notional_inr", 10_000_000)
	v.SetDefault("sla_place_ms", 100)
	v.SetDefault("sla_modify_ms", 200)
	v.SetDefault("sla_cancel_ms", 200)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.open_duration", 30*time.Second)
	v.SetDefault("circuit.half_open_probes", 3)
	v.SetDefault("circuit.rolling_window", 60*time.Second)
	v.SetDefault("circuit.failure_rate_min_requests", 10)
	v.SetDefault("circuit.failure_rate_threshold", 0.5)
	v.SetDefault("broker.submit_timeout", 2*time.Second)
	v.SetDefault("broker.modify_timeout", 2*time.Second)
	v.SetDefault("broker.cancel_timeout", 1*time.Second)
	v.SetDefault("scheduler.expiry_sweep_interval", 60*time.Second)
	v.SetDefault("scheduler.health_probe_interval", 10*time.Second)
	v.SetDefault("scheduler.cancel_reconcile_interval", 15*time.Second)
	v.SetDefault("scheduler.cancel_reconcile_age", 30*time.Second)
	v.SetDefault("features.advanced_orders", false)
	v.SetDefault("nats_url", "")
	v.SetDefault("journal_dir", "./journal")
	v.SetDefault("metrics_addr", ":9100")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the optional file path plus TRADING_*
// environment overrides, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRADING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and no file
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// Validate rejects configurations that cannot run
func (c *Config) Validate() error {
	if c.PrimaryBroker == "" {
		return fmt.Errorf("primary_broker is required")
	}
	if c.FallbackBroker == c.PrimaryBroker {
		return fmt.Errorf("fallback_broker must differ from primary_broker")
	}
	if c.LargeOrderThreshold <= 0 {
		return fmt.Errorf("large_order_threshold must be positive")
	}
	if c.MaxSingleOrderQuantity < c.LargeOrderThreshold {
		return fmt.Errorf("max_single_order_quantity must be >= large_order_threshold")
	}
	if c.MaxNotionalINR <= 0 {
		return fmt.Errorf("max_notional_inr must be positive")
	}
	for _, d := range c.MarketHolidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid market holiday %q: %w", d, err)
		}
	}
	return nil
}
