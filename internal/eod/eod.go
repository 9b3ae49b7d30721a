// Package eod runs the daily close-out: a fixed sequence of six steps, each
// fenced so one failing step never blocks the rest of the run.
package eod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steward/internal/broker"
	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/reconcile"
	"steward/internal/store"
)

const stepCount = 6

// Verifier is the slice of the status verifier the orchestrator needs.
type Verifier interface {
	Cycle(ctx context.Context) error
}

// Reconciler runs one reconciliation pass against a holdings snapshot.
type Reconciler interface {
	Run(ctx context.Context, holdings map[string]float64) ([]reconcile.Result, reconcile.Summary, error)
}

type Params struct {
	Store      store.Store
	Broker     broker.Broker
	Verifier   Verifier
	Reconciler Reconciler
	Bus        *events.Bus

	// StaleAfter is how old a non-terminal order may get before the close-out
	// cancels it. Default 24h.
	StaleAfter time.Duration
	// Retention is how long terminal orders stay unarchived. Default 30 days.
	Retention time.Duration
}

type Orchestrator struct {
	store      store.Store
	broker     broker.Broker
	verifier   Verifier
	reconciler Reconciler
	bus        *events.Bus
	staleAfter time.Duration
	retention  time.Duration
}

func New(p Params) *Orchestrator {
	if p.StaleAfter <= 0 {
		p.StaleAfter = 24 * time.Hour
	}
	if p.Retention <= 0 {
		p.Retention = 30 * 24 * time.Hour
	}
	return &Orchestrator{
		store:      p.Store,
		broker:     p.Broker,
		verifier:   p.Verifier,
		reconciler: p.Reconciler,
		bus:        p.Bus,
		staleAfter: p.StaleAfter,
		retention:  p.Retention,
	}
}

// StepResult records one step of the run.
type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report is the outcome of one full run. StepsCompleted + StepsFailed always
// equals the number of steps.
type Report struct {
	StartedAt      time.Time
	Steps          []StepResult
	StepsCompleted int
	StepsFailed    int
}

// Run executes all six steps in order regardless of individual failures and
// returns the per-step report.
func (o *Orchestrator) Run(ctx context.Context) Report {
	rep := Report{StartedAt: time.Now()}
	var (
		summary  reconcile.Summary
		counters store.Counters
	)

	o.step(&rep, "verify", func() error {
		return o.verifier.Cycle(ctx)
	})
	o.step(&rep, "reconcile", func() error {
		holdings, err := o.broker.Holdings(ctx)
		if err != nil {
			return err
		}
		_, summary, err = o.reconciler.Run(ctx, holdings)
		return err
	})
	o.step(&rep, "cancel_stale", func() error {
		return o.cancelStale(ctx, rep.StartedAt.Add(-o.staleAfter))
	})
	o.step(&rep, "counters", func() error {
		var err error
		counters, err = o.store.CountersSince(ctx, rep.StartedAt.Add(-24*time.Hour))
		return err
	})
	o.step(&rep, "notify", func() error {
		if o.bus == nil {
			return nil
		}
		o.bus.Publish(events.Event{
			Kind: events.KindEODSummary,
			Payload: events.EODSummary{
				Counters:       counters,
				Reconciliation: summary.Render(),
				StepsCompleted: rep.StepsCompleted,
				StepsFailed:    rep.StepsFailed,
			},
		})
		return nil
	})
	o.step(&rep, "archive", func() error {
		n, err := o.store.ArchiveTerminal(ctx, rep.StartedAt.Add(-o.retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Infof("eod: archived %d terminal orders", n)
		}
		return nil
	})

	logger.Infof("eod: run done, completed=%d failed=%d", rep.StepsCompleted, rep.StepsFailed)
	for _, s := range rep.Steps {
		if s.Err != nil {
			logger.Errorf("eod: step %s failed after %s: %v", s.Name, s.Duration, s.Err)
		}
	}
	return rep
}

// step runs fn with panic fencing and records the result.
func (o *Orchestrator) step(rep *Report, name string, fn func() error) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	rep.Steps = append(rep.Steps, StepResult{Name: name, Duration: time.Since(start), Err: err})
	if err != nil {
		rep.StepsFailed++
	} else {
		rep.StepsCompleted++
	}
}

// cancelStale expires every non-terminal order older than the cutoff. A row
// being touched concurrently is left for the next run.
func (o *Orchestrator) cancelStale(ctx context.Context, olderThan time.Time) error {
	stale, err := o.store.ListStale(ctx, olderThan)
	if err != nil {
		return err
	}
	for i := range stale {
		so := stale[i]
		if so.Status == order.StatusOngoing {
			// An open position is not stale paperwork.
			continue
		}
		if so.BrokerOrderID != "" {
			// The broker may still be working the order; going terminal
			// locally without cancelling there would leave it live.
			err := o.broker.CancelOrder(ctx, so.Symbol, so.BrokerOrderID)
			switch {
			case err == nil, errors.Is(err, broker.ErrOrderNotFound):
			case broker.IsTransient(err):
				logger.Warnf("eod: broker unavailable cancelling order %d, skipping: %v", so.ID, err)
				continue
			default:
				logger.Warnf("eod: cancelling order %d at broker: %v", so.ID, err)
				continue
			}
		}
		prev := so.Status
		if err := so.Transition(order.StatusCancelled, "expired"); err != nil {
			logger.Warnf("eod: order %d: %v", so.ID, err)
			continue
		}
		if err := o.store.Upsert(ctx, &so, prev); err != nil {
			if errors.Is(err, store.ErrStaleWrite) {
				logger.Debugf("eod: order %d changed under us, skipping", so.ID)
				continue
			}
			return err
		}
		logger.Infof("eod: cancelled stale order %d (%s), open since %s",
			so.ID, so.Symbol, so.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
