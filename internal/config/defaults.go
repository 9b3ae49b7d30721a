package config

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":9980"
	defaultStorePath          = "data/steward.db"
	defaultJournalPath        = "data/journal.db"
	defaultBrokerBackend      = "paper"
	defaultBrokerQuoteAsset   = "USDT"
	defaultBrokerTimeout      = 15
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 60
	defaultCapitalPerTrade    = 100
	defaultLotStep            = 1.0
	defaultVerifierInterval   = 30
	defaultVerifierGrace      = 120
	defaultRetryInterval      = "1h"
	defaultEODHour            = 16
	defaultEODStaleHours      = 24
	defaultEODRetentionDays   = 30
	defaultCalendarOpen       = "09:15"
	defaultCalendarClose      = "15:30"
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.JournalPath == "" {
		c.Store.JournalPath = defaultJournalPath
	}
	if c.Broker.Backend == "" {
		c.Broker.Backend = defaultBrokerBackend
	}
	if c.Broker.QuoteAsset == "" {
		c.Broker.QuoteAsset = defaultBrokerQuoteAsset
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = defaultBrokerTimeout
	}
	if c.Broker.BreakerThreshold <= 0 {
		c.Broker.BreakerThreshold = defaultBreakerThreshold
	}
	if c.Broker.BreakerCooldownSeconds <= 0 {
		c.Broker.BreakerCooldownSeconds = defaultBreakerCooldown
	}
	if c.Trading.CapitalPerTrade <= 0 {
		c.Trading.CapitalPerTrade = defaultCapitalPerTrade
	}
	if c.Trading.LotStep <= 0 {
		c.Trading.LotStep = defaultLotStep
	}
	if c.Verifier.IntervalMinutes <= 0 {
		c.Verifier.IntervalMinutes = defaultVerifierInterval
	}
	if c.Verifier.GracePeriodSeconds <= 0 {
		c.Verifier.GracePeriodSeconds = defaultVerifierGrace
	}
	if c.Retry.Interval == "" {
		c.Retry.Interval = defaultRetryInterval
	}
	if c.EOD.Hour <= 0 {
		c.EOD.Hour = defaultEODHour
	}
	if c.EOD.StaleAfterHours <= 0 {
		c.EOD.StaleAfterHours = defaultEODStaleHours
	}
	if c.EOD.RetentionDays <= 0 {
		c.EOD.RetentionDays = defaultEODRetentionDays
	}
	if c.Calendar.SessionOpen == "" {
		c.Calendar.SessionOpen = defaultCalendarOpen
	}
	if c.Calendar.SessionClose == "" {
		c.Calendar.SessionClose = defaultCalendarClose
	}
}
