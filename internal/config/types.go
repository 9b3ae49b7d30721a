package config

import (
	"time"

	"steward/internal/scheduler"
)

// Config is the top-level configuration for the engine.
type Config struct {
	App      AppConfig      `toml:"app"`
	Store    StoreConfig    `toml:"store"`
	Broker   BrokerConfig   `toml:"broker"`
	Trading  TradingConfig  `toml:"trading"`
	Verifier VerifierConfig `toml:"verifier"`
	Retry    RetryConfig    `toml:"retry"`
	EOD      EODConfig      `toml:"eod"`
	Calendar CalendarConfig `toml:"calendar"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type StoreConfig struct {
	Path        string `toml:"path"`
	JournalPath string `toml:"journal_path"`
}

// BrokerConfig selects and configures the broker backend.
type BrokerConfig struct {
	Backend                string `toml:"backend"` // "paper" | "binance"
	APIKey                 string `toml:"api_key"`
	APISecret              string `toml:"api_secret"`
	QuoteAsset             string `toml:"quote_asset"`
	Testnet                bool   `toml:"testnet"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (b BrokerConfig) BreakerCooldown() time.Duration {
	return time.Duration(b.BreakerCooldownSeconds) * time.Second
}

// TradingConfig holds the capital policy the retry engine sizes orders from.
// It is the hot-reloadable section.
type TradingConfig struct {
	CapitalPerTrade float64 `toml:"capital_per_trade"`
	LotStep         float64 `toml:"lot_step"`
}

type VerifierConfig struct {
	IntervalMinutes    int `toml:"interval_minutes"`
	GracePeriodSeconds int `toml:"grace_period_seconds"`
}

func (v VerifierConfig) Interval() time.Duration {
	return time.Duration(v.IntervalMinutes) * time.Minute
}

func (v VerifierConfig) GracePeriod() time.Duration {
	return time.Duration(v.GracePeriodSeconds) * time.Second
}

// RetryConfig sets how often failed orders are re-driven. Interval takes the
// short form ("30m", "1h", "1d").
type RetryConfig struct {
	Interval string `toml:"interval"`
}

func (r RetryConfig) IntervalDuration() time.Duration {
	if d, ok := scheduler.ParseIntervalDuration(r.Interval); ok {
		return d
	}
	return time.Hour
}

type EODConfig struct {
	Hour            int `toml:"hour"`
	Minute          int `toml:"minute"`
	StaleAfterHours int `toml:"stale_after_hours"`
	RetentionDays   int `toml:"retention_days"`
}

func (e EODConfig) StaleAfter() time.Duration {
	return time.Duration(e.StaleAfterHours) * time.Hour
}

func (e EODConfig) Retention() time.Duration {
	return time.Duration(e.RetentionDays) * 24 * time.Hour
}

type CalendarConfig struct {
	Timezone     string `toml:"timezone"`
	SessionOpen  string `toml:"session_open"`
	SessionClose string `toml:"session_close"`
	HolidaysFile string `toml:"holidays_file"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
