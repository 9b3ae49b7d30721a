// Package app wires the engine together: config in, running loops out.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"steward/internal/broker"
	"steward/internal/calendar"
	stcfg "steward/internal/config"
	"steward/internal/eod"
	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/notifier"
	"steward/internal/pkg/circuit"
	"steward/internal/pkg/keylock"
	"steward/internal/placement"
	"steward/internal/reconcile"
	"steward/internal/retry"
	"steward/internal/scheduler"
	"steward/internal/store"
	"steward/internal/store/gormstore"
	"steward/internal/store/journal"
	"steward/internal/tracking"
	opshttp "steward/internal/transport/http"
	"steward/internal/verifier"

	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg     *stcfg.Config
	cfgPath string

	store     store.Store
	broker    broker.Broker
	bus       *events.Bus
	cal       *calendar.Calendar
	trading   *stcfg.TradingRuntime
	verifier  *verifier.Verifier
	retry     *retry.Engine
	reconcile *reconcile.Engine
	eod       *eod.Orchestrator
	dispatch  *notifier.Dispatcher
	updater   *tracking.Updater
	journal   *journal.Journal
	http      *opshttp.Server
}

// NewApp builds the application from config without starting anything.
// cfgPath enables hot reload of the trading section; empty disables watching.
func NewApp(cfg *stcfg.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bk, err := buildBroker(cfg.Broker)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cal, err := calendar.New(calendar.Config{
		Timezone:     cfg.Calendar.Timezone,
		SessionOpen:  cfg.Calendar.SessionOpen,
		SessionClose: cfg.Calendar.SessionClose,
		HolidaysFile: cfg.Calendar.HolidaysFile,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading calendar: %w", err)
	}

	jrnl, err := journal.New(cfg.Store.JournalPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening event journal: %w", err)
	}

	bus := events.NewBus(0)
	locks := keylock.New()
	trading := stcfg.NewTradingRuntime(cfg.Trading)

	v := verifier.New(verifier.Params{
		Store:    st,
		Broker:   bk,
		Bus:      bus,
		Interval: cfg.Verifier.Interval(),
		Grace:    cfg.Verifier.GracePeriod(),
	})
	rec := reconcile.New(st, locks, bus)

	a := &App{
		cfg:       cfg,
		cfgPath:   cfgPath,
		store:     st,
		broker:    bk,
		bus:       bus,
		cal:       cal,
		trading:   trading,
		verifier:  v,
		retry:     retry.New(st, bk, bus, cal, trading, locks),
		reconcile: rec,
		eod: eod.New(eod.Params{
			Store:      st,
			Broker:     bk,
			Verifier:   v,
			Reconciler: rec,
			Bus:        bus,
			StaleAfter: cfg.EOD.StaleAfter(),
			Retention:  cfg.EOD.Retention(),
		}),
		dispatch: notifier.NewDispatcher(buildSink(cfg.Notify)),
		updater:  tracking.NewUpdater(st, locks),
		journal:  jrnl,
	}
	a.http = opshttp.NewServer(cfg.App.HTTPAddr, &opshttp.Router{
		Placement: placement.NewService(st, bk, bus, locks),
		Store:     st,
		Broker:    bk,
		Verifier:  v,
		Retry:     a.retry,
		Reconcile: rec,
		EOD:       a.eod,
		Journal:   jrnl,
	})
	return a, nil
}

func buildBroker(cfg stcfg.BrokerConfig) (broker.Broker, error) {
	var inner broker.Broker
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "paper":
		inner = broker.NewPaper()
	case "binance":
		inner = broker.NewBinance(broker.BinanceConfig{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			QuoteAsset: cfg.QuoteAsset,
			Testnet:    cfg.Testnet,
		})
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Backend)
	}
	br := circuit.New("broker", cfg.BreakerThreshold, cfg.BreakerCooldown())
	return broker.NewGuarded(inner, br, cfg.Timeout()), nil
}

func buildSink(cfg stcfg.NotifyConfig) notifier.TextNotifier {
	if cfg.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.Nop{}
}

// Run starts every loop and blocks until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	logger.Infof("steward: starting, broker=%s store=%s http=%s",
		a.broker.Name(), a.cfg.Store.Path, a.http.Addr())

	group, ctx := errgroup.WithContext(ctx)

	a.verifier.Start(ctx)

	group.Go(func() error {
		a.updater.Run(ctx, a.bus.Subscribe())
		return nil
	})
	group.Go(func() error {
		a.dispatch.Run(ctx, a.bus.Subscribe())
		return nil
	})
	group.Go(func() error {
		a.journal.Run(ctx, a.bus.Subscribe())
		return nil
	})

	group.Go(func() error {
		s := scheduler.NewIntervalScheduler(ctx, "retry", a.cfg.Retry.IntervalDuration())
		s.Start(func() {
			if _, err := a.retry.Run(ctx); err != nil {
				logger.Errorf("retry pass: %v", err)
			}
		})
		return nil
	})
	group.Go(func() error {
		s := scheduler.NewDailyScheduler(ctx, "eod", a.cfg.EOD.Hour, a.cfg.EOD.Minute, a.cal.Location())
		s.ShouldRun = a.cal.IsTradingDay
		s.Start(func() {
			rep := a.eod.Run(ctx)
			if rep.StepsFailed > 0 {
				logger.Warnf("eod run finished with %d failed steps", rep.StepsFailed)
			}
		})
		return nil
	})

	group.Go(func() error {
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.http.Shutdown(shutdownCtx)
	})

	if a.cfgPath != "" {
		group.Go(func() error {
			err := stcfg.Watch(ctx, a.cfgPath, func(fresh *stcfg.Config) {
				a.trading.Update(fresh.Trading)
				logger.SetLevel(fresh.App.LogLevel)
			})
			if err != nil {
				logger.Warnf("config watcher stopped: %v", err)
			}
			return nil
		})
	}

	err := group.Wait()
	a.verifier.Stop()
	a.bus.Close()
	if cerr := a.journal.Close(); cerr != nil {
		logger.Warnf("closing journal: %v", cerr)
	}
	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("closing store: %v", cerr)
	}
	logger.Infof("steward: stopped")
	return err
}
