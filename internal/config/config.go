// Package config provides application-wide configuration management.
// All configuration is loaded from a YAML file with environment overrides.
// Every engine knob is an explicit field of a typed struct; once a run
// starts its configuration is immutable.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RunConfig describes the backtest to execute.
type RunConfig struct {
	Symbol           string  `mapstructure:"symbol"`
	Timeframe        string  `mapstructure:"timeframe"`
	Start            string  `mapstructure:"start"` // RFC3339; empty means full series
	End              string  `mapstructure:"end"`
	InitialCapital   float64 `mapstructure:"initial_capital"`
	CommissionRate   float64 `mapstructure:"commission_rate"`
	SlippageModel    string  `mapstructure:"slippage_model"` // none | fixed | dynamic
	FixedSlippageBps float64 `mapstructure:"fixed_slippage_bps"`
	UseOrderbook     bool    `mapstructure:"use_orderbook"`
	Seed             int64   `mapstructure:"seed"`
	Strategy         string  `mapstructure:"strategy"`
}

// RiskConfig holds sizing and guardrail parameters.
type RiskConfig struct {
	RiskBudgetPct    float64 `mapstructure:"risk_budget_pct"`
	MaxDrawdownPct   float64 `mapstructure:"max_drawdown_pct"`
	UseKelly         bool    `mapstructure:"use_kelly"`
	KellyCap         float64 `mapstructure:"kelly_cap"`
	UseVolTargeting  bool    `mapstructure:"use_vol_targeting"`
	TargetVolatility float64 `mapstructure:"target_volatility"`

	ShutdownEnabled        bool    `mapstructure:"shutdown_enabled"`
	ShutdownMaxDrawdownPct float64 `mapstructure:"shutdown_max_drawdown_pct"`
	ShutdownMinSharpe      float64 `mapstructure:"shutdown_min_sharpe"`
	ShutdownMinHitRatePct  float64 `mapstructure:"shutdown_min_hit_rate_pct"`
	ShutdownLookbackTrades int     `mapstructure:"shutdown_lookback_trades"`
	AllowMissingData       bool    `mapstructure:"allow_missing_data"`
}

// ExecutionConfig holds simulator thresholds.
type ExecutionConfig struct {
	SnapshotToleranceSeconds int     `mapstructure:"snapshot_tolerance_seconds"`
	WideSpreadPctMax         float64 `mapstructure:"wide_spread_pct_max"`
	DegradedThreshold        float64 `mapstructure:"degraded_threshold"`
	UnreliableThreshold      float64 `mapstructure:"unreliable_threshold"`
	MaxGapRatio              float64 `mapstructure:"max_gap_ratio"`
	GapThresholdMultiplier   float64 `mapstructure:"gap_threshold_multiplier"`
	AbortOnTemporalFailure   bool    `mapstructure:"abort_on_temporal_failure"`
	MaxWaitBars              int     `mapstructure:"max_wait_bars"`
}

// DataConfig points at the candle and order book sources.
type DataConfig struct {
	CandleCSV   string `mapstructure:"candle_csv"`   // CSV fallback source
	OrderbookDB string `mapstructure:"orderbook_db"` // SQLite snapshot store
	DatabaseURL string `mapstructure:"database_url"` // Postgres; empty disables persistence
}

// StreamConfig configures the observer event stream.
type StreamConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the root configuration document.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Data      DataConfig      `mapstructure:"data"`
	Stream    StreamConfig    `mapstructure:"stream"`
}

// Load reads the configuration file and applies BACKTEST_* environment
// overrides (e.g. BACKTEST_DATA_DATABASE_URL). Defaults cover every knob, so
// an empty file is a valid starting point.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.symbol", "BTCUSDT")
	v.SetDefault("run.timeframe", "1h")
	v.SetDefault("run.initial_capital", 10000.0)
	v.SetDefault("run.commission_rate", 0.001)
	v.SetDefault("run.slippage_model", "dynamic")
	v.SetDefault("run.fixed_slippage_bps", 5.0)
	v.SetDefault("run.use_orderbook", false)
	v.SetDefault("run.strategy", "sma_cross")

	v.SetDefault("risk.risk_budget_pct", 1.0)
	v.SetDefault("risk.max_drawdown_pct", 50.0)
	v.SetDefault("risk.kelly_cap", 0.5)
	v.SetDefault("risk.target_volatility", 0.10)
	v.SetDefault("risk.shutdown_enabled", false)
	v.SetDefault("risk.shutdown_max_drawdown_pct", 20.0)
	v.SetDefault("risk.shutdown_min_sharpe", 0.2)
	v.SetDefault("risk.shutdown_min_hit_rate_pct", 40.0)
	v.SetDefault("risk.shutdown_lookback_trades", 50)
	v.SetDefault("risk.allow_missing_data", true)

	v.SetDefault("execution.snapshot_tolerance_seconds", 5)
	v.SetDefault("execution.wide_spread_pct_max", 5.0)
	v.SetDefault("execution.degraded_threshold", 0.20)
	v.SetDefault("execution.unreliable_threshold", 0.50)
	v.SetDefault("execution.max_gap_ratio", 0.10)
	v.SetDefault("execution.gap_threshold_multiplier", 2.0)
	v.SetDefault("execution.max_wait_bars", 10)

	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.port", 8085)
}

// Validate checks cross-field consistency. It runs once at load; components
// trust a validated config.
func (c *Config) Validate() error {
	if c.Run.InitialCapital <= 0 {
		return fmt.Errorf("config: run.initial_capital must be positive")
	}
	if c.Run.CommissionRate < 0 || c.Run.CommissionRate > 0.1 {
		return fmt.Errorf("config: run.commission_rate %.4f outside [0, 0.1]", c.Run.CommissionRate)
	}
	switch c.Run.SlippageModel {
	case "none", "fixed", "dynamic":
	default:
		return fmt.Errorf("config: run.slippage_model %q must be none, fixed, or dynamic", c.Run.SlippageModel)
	}
	if c.Risk.RiskBudgetPct <= 0 || c.Risk.RiskBudgetPct > 100 {
		return fmt.Errorf("config: risk.risk_budget_pct %.2f outside (0, 100]", c.Risk.RiskBudgetPct)
	}
	if c.Execution.DegradedThreshold >= c.Execution.UnreliableThreshold {
		return fmt.Errorf("config: execution degraded threshold %.2f must be below unreliable threshold %.2f",
			c.Execution.DegradedThreshold, c.Execution.UnreliableThreshold)
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	if _, err := c.EndTime(); err != nil {
		return err
	}
	return nil
}

// StartTime parses the optional run start.
func (c *Config) StartTime() (time.Time, error) { return parseTime(c.Run.Start, "run.start") }

// EndTime parses the optional run end.
func (c *Config) EndTime() (time.Time, error) { return parseTime(c.Run.End, "run.end") }

func parseTime(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("config: %s %q is not RFC3339 or YYYY-MM-DD", field, value)
}
