package config

import (
	"fmt"
	"strings"

	"steward/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Verifier.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if err := c.EOD.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Backend)) {
	case "paper":
	case "binance":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for backend=binance")
		}
	default:
		return fmt.Errorf("broker.backend must be \"paper\" or \"binance\", got %q", b.Backend)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.CapitalPerTrade <= 0 {
		return fmt.Errorf("trading.capital_per_trade must be > 0")
	}
	if t.LotStep <= 0 {
		return fmt.Errorf("trading.lot_step must be > 0")
	}
	return nil
}

func (v *VerifierConfig) validate() error {
	if v.IntervalMinutes <= 0 {
		return fmt.Errorf("verifier.interval_minutes must be > 0")
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(r.Interval); !ok {
		return fmt.Errorf("retry.interval %q is not a valid interval (use forms like \"30m\", \"1h\")", r.Interval)
	}
	return nil
}

func (e *EODConfig) validate() error {
	if e.Hour < 0 || e.Hour > 23 {
		return fmt.Errorf("eod.hour must be in [0, 23]")
	}
	if e.Minute < 0 || e.Minute > 59 {
		return fmt.Errorf("eod.minute must be in [0, 59]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
