package config

import "sync"

// TradingRuntime is the live view of the trading section. The watcher swaps
// it on reload; the retry engine reads it at the moment each order is
// re-sized rather than caching values from startup.
type TradingRuntime struct {
	mu  sync.RWMutex
	cfg TradingConfig
}

func NewTradingRuntime(cfg TradingConfig) *TradingRuntime {
	return &TradingRuntime{cfg: cfg}
}

func (r *TradingRuntime) Current() TradingConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *TradingRuntime) Update(cfg TradingConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}
