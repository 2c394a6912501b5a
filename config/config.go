package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full process configuration.
type Config struct {
	ClickHouse      ClickHouseConfig      `yaml:"clickhouse"`
	Services        ServicesConfig        `yaml:"services"`
	Execution       ExecutionConfig       `yaml:"execution"`
	Fees            FeesConfig            `yaml:"fees"`
	SessionDefaults SessionDefaultsConfig `yaml:"session_defaults"`
	Log             LogConfig             `yaml:"log"`
}

// ClickHouseConfig names the analytical store a concrete DataSource reads
// historical ticks from. The core forwards this section untouched; no
// package in this module dials ClickHouse itself.
type ClickHouseConfig struct {
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

// ServicesConfig names the broker-protocol façades that sit in front of
// the engine. Forwarded untouched, same as ClickHouseConfig.
type ServicesConfig struct {
	RESTAddr string `yaml:"rest_addr"`
	WSAddr   string `yaml:"ws_addr"`
}

// ExecutionConfig is the default ExecutionPolicy/margin surface every
// created session inherits unless its SessionConfig overrides it.
type ExecutionConfig struct {
	MarketHoursLocation     string  `yaml:"market_hours_location"`
	AllowExtendedHours      bool    `yaml:"allow_extended_hours"`
	MarginClass             string  `yaml:"margin_class"` // cash | intraday
	CashMultiplier          float64 `yaml:"cash_multiplier"`
	IntradayLeverage        float64 `yaml:"intraday_leverage"`
	EnableMarginCallChecks  bool    `yaml:"enable_margin_call_checks"`
	EnableForcedLiquidation bool    `yaml:"enable_forced_liquidation"`
	MaintenanceMarginBp     float64 `yaml:"maintenance_margin_bp"`
	ImpactEnabled           bool    `yaml:"impact_enabled"`
	ImpactBp                float64 `yaml:"impact_bp"`
}

// FeesConfig is the default per-fill FeeSchedule every created session
// inherits unless overridden.
type FeesConfig struct {
	PerOrderCommission float64 `yaml:"per_order_commission"`
	PerShareCommission float64 `yaml:"per_share_commission"`
	SECFeePerMillion   float64 `yaml:"sec_fee_per_million"`
	FINRATAFPerShare   float64 `yaml:"finra_taf_per_share"`
	FINRATAFCap        float64 `yaml:"finra_taf_cap"`
	TakerFeePerShare   float64 `yaml:"taker_fee_per_share"`
}

// SessionDefaultsConfig seeds SessionConfig fields create_session leaves
// unset.
type SessionDefaultsConfig struct {
	InitialCapital    float64 `yaml:"initial_capital"`
	SpeedFactor       float64 `yaml:"speed_factor"`
	QueueCapacity     int     `yaml:"queue_capacity"`
	OverflowPolicy    string  `yaml:"overflow_policy"` // block | drop_oldest | drop_newest
	SubmitRateLimit   int     `yaml:"submit_rate_limit"`
	SubmitRateWindowS float64 `yaml:"submit_rate_window_seconds"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads cfg from the YAML file at path, then overlays a .env file (if
// present) and process environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// SubmitRateWindow returns the session_defaults submit-rate window as a
// time.Duration.
func (c *Config) SubmitRateWindow() time.Duration {
	return time.Duration(c.SessionDefaults.SubmitRateWindowS * float64(time.Second))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := os.Getenv("REPLAYSIM_REST_ADDR"); v != "" {
		cfg.Services.RESTAddr = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "marketdata"
	}
	if cfg.Services.RESTAddr == "" {
		cfg.Services.RESTAddr = ":8080"
	}
	if cfg.Services.WSAddr == "" {
		cfg.Services.WSAddr = ":8081"
	}
	if cfg.Execution.MarketHoursLocation == "" {
		cfg.Execution.MarketHoursLocation = "America/New_York"
	}
	if cfg.Execution.MarginClass == "" {
		cfg.Execution.MarginClass = "cash"
	}
	if cfg.Execution.CashMultiplier <= 0 {
		cfg.Execution.CashMultiplier = 2.0
	}
	if cfg.Execution.IntradayLeverage <= 0 {
		cfg.Execution.IntradayLeverage = 4.0
	}
	if cfg.Execution.MaintenanceMarginBp <= 0 {
		cfg.Execution.MaintenanceMarginBp = 2500 // 25%
	}
	if cfg.Fees.SECFeePerMillion <= 0 {
		cfg.Fees.SECFeePerMillion = 27.80
	}
	if cfg.Fees.FINRATAFPerShare <= 0 {
		cfg.Fees.FINRATAFPerShare = 0.000166
	}
	if cfg.Fees.FINRATAFCap <= 0 {
		cfg.Fees.FINRATAFCap = 8.30
	}
	if cfg.SessionDefaults.InitialCapital <= 0 {
		cfg.SessionDefaults.InitialCapital = 100_000
	}
	if cfg.SessionDefaults.QueueCapacity <= 0 {
		cfg.SessionDefaults.QueueCapacity = 10_000
	}
	if cfg.SessionDefaults.OverflowPolicy == "" {
		cfg.SessionDefaults.OverflowPolicy = "block"
	}
	if cfg.SessionDefaults.SubmitRateLimit <= 0 {
		cfg.SessionDefaults.SubmitRateLimit = 100
	}
	if cfg.SessionDefaults.SubmitRateWindowS <= 0 {
		cfg.SessionDefaults.SubmitRateWindowS = 1.0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
