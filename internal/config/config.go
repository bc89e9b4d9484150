package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Broker   Broker   `mapstructure:"broker"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Regime   Regime   `mapstructure:"regime"`
	Notify   Notify   `mapstructure:"notify"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Broker holds the configuration for the broker gateway API.
type Broker struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	ApiPort int `mapstructure:"api_port"`
	UiPort  int `mapstructure:"ui_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the dispatch and rotation logic.
type Trading struct {
	DryRun            bool    `mapstructure:"dry_run"`
	CooldownSeconds   int     `mapstructure:"cooldown_seconds"`
	RotationThreshold int     `mapstructure:"rotation_threshold"`
	MinRotationScore  int     `mapstructure:"min_rotation_score"`
	DedupeMinutes     int     `mapstructure:"dedupe_minutes"`
	OrderKeepDays     int     `mapstructure:"order_keep_days"`
	DefaultLotSize    float64 `mapstructure:"default_lot_size"`
	StopCheckSeconds  int     `mapstructure:"stop_check_seconds"`
	ReconcileSeconds  int     `mapstructure:"reconcile_seconds"`
	StopLossPct       float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct     float64 `mapstructure:"take_profit_pct"`
}

// RiskLimit caps exposure for a single symbol. A symbol without an entry is
// allowed by default.
type RiskLimit struct {
	MaxNotional float64 `mapstructure:"max_notional"`
	MaxPosition float64 `mapstructure:"max_position"`
}

// Risk holds the watchlist and the per-symbol limits.
type Risk struct {
	Watchlist []string             `mapstructure:"watchlist"`
	Limits    map[string]RiskLimit `mapstructure:"limits"`
	LotSizes  map[string]float64   `mapstructure:"lot_sizes"`
}

// Regime holds the configuration for the deleveraging planner.
type Regime struct {
	Indices         []string `mapstructure:"indices"`
	MAPeriod        int      `mapstructure:"ma_period"`
	IntervalMinutes int      `mapstructure:"interval_minutes"`
}

// Notify holds the configuration for the webhook notification sink.
type Notify struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("broker.rate_limit", 10)      // requests per second
	viper.SetDefault("broker.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.cooldown_seconds", 60)
	viper.SetDefault("trading.rotation_threshold", 20)
	viper.SetDefault("trading.min_rotation_score", 50)
	viper.SetDefault("trading.dedupe_minutes", 60)
	viper.SetDefault("trading.order_keep_days", 3)
	viper.SetDefault("trading.default_lot_size", 1)
	viper.SetDefault("trading.stop_check_seconds", 15)
	viper.SetDefault("trading.reconcile_seconds", 60)
	viper.SetDefault("trading.stop_loss_pct", 0.08)
	viper.SetDefault("trading.take_profit_pct", 0.20)
	viper.SetDefault("regime.indices", []string{"QQQ", "SPY", "HSI"})
	viper.SetDefault("regime.ma_period", 200)
	viper.SetDefault("regime.interval_minutes", 30)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

// OnWatchlist reports whether a symbol is configured for trading.
func (r Risk) OnWatchlist(symbol string) bool {
	for _, s := range r.Watchlist {
		if s == symbol {
			return true
		}
	}
	return false
}

// LotSize returns the minimum tradable increment for a symbol.
func (r Risk) LotSize(symbol string, defaultLot float64) float64 {
	if lot, ok := r.LotSizes[symbol]; ok && lot > 0 {
		return lot
	}
	if defaultLot > 0 {
		return defaultLot
	}
	return 1
}
