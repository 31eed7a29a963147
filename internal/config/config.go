package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Advisor    AdvisorConfig    `mapstructure:"advisor"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Screener   ScreenerConfig   `mapstructure:"screener"`
	Review     ReviewConfig     `mapstructure:"review"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	PortfolioSnapshot string `mapstructure:"portfolio_snapshot"`
	ReviewTimeout     string `mapstructure:"review_timeout"`
}

type MarketDataConfig struct {
	Exchange          string        `mapstructure:"exchange"`
	Timezone          string        `mapstructure:"timezone"`
	SymbolSuffix      string        `mapstructure:"symbol_suffix"`
	Timeout           time.Duration `mapstructure:"timeout"`
	HistoryYears      int           `mapstructure:"history_years"`
	IgnoreMarketHours bool          `mapstructure:"ignore_market_hours"`
}

type AdvisorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Models         []string      `mapstructure:"models"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type TradingConfig struct {
	Mode              string        `mapstructure:"mode"`
	InitialBalance    float64       `mapstructure:"initial_balance"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	DeepScanInterval  time.Duration `mapstructure:"deep_scan_interval"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	SellConfidence    float64       `mapstructure:"sell_confidence"`
	Universe          []string      `mapstructure:"universe"`
	StartupScreenPass bool          `mapstructure:"startup_screen_pass"`
}

type RiskConfig struct {
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	MaxPositions   int     `mapstructure:"max_positions"`
	StopLossPct    float64 `mapstructure:"stop_loss_pct"`
}

type ScreenerConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	MinBars       int    `mapstructure:"min_bars"`
	SelectionMode string `mapstructure:"selection_mode"`
	TopN          int    `mapstructure:"top_n"`
	CutoffTicker  string `mapstructure:"cutoff_ticker"`
}

type ReviewConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ManualReview reports whether validated trades need human sign-off before
// execution. Paper mode auto-executes; anything else goes through review.
func (c TradingConfig) ManualReview() bool {
	return !strings.EqualFold(strings.TrimSpace(c.Mode), "paper")
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.portfolio_snapshot", "@every 1h")
	v.SetDefault("cron.review_timeout", "@every 1m")

	v.SetDefault("market_data.exchange", "LSE")
	v.SetDefault("market_data.timezone", "Europe/London")
	v.SetDefault("market_data.symbol_suffix", ".L")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.history_years", 2)
	v.SetDefault("market_data.ignore_market_hours", false)

	v.SetDefault("advisor.base_url", "http://localhost:1234/v1")
	v.SetDefault("advisor.timeout", "120s")
	v.SetDefault("advisor.max_retries", 3)
	v.SetDefault("advisor.retry_base_delay", "1s")

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.initial_balance", 10000.0)
	v.SetDefault("trading.poll_interval", "5m")
	v.SetDefault("trading.deep_scan_interval", "1h")
	v.SetDefault("trading.min_confidence", 0.8)
	v.SetDefault("trading.sell_confidence", 0.8)
	v.SetDefault("trading.startup_screen_pass", true)

	v.SetDefault("risk.max_position_pct", 0.20)
	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.stop_loss_pct", 0.05)

	v.SetDefault("screener.concurrency", 8)
	v.SetDefault("screener.min_bars", 50)
	v.SetDefault("screener.selection_mode", "top_n")
	v.SetDefault("screener.top_n", 10)
	v.SetDefault("screener.cutoff_ticker", "")

	v.SetDefault("review.timeout", "60m")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
