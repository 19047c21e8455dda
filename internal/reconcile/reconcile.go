// Package reconcile implements the Reconciler (C11): a scheduled drift
// detector between the primary chunk store and the secondary point store.
// It never mutates either store; drift repair is an operator action.
package reconcile

import (
	"context"
	"time"

	"github.com/henryperkins/agentic-rag/internal/events"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
)

// PrimaryCounter counts chunks in the primary relational store.
type PrimaryCounter interface {
	CountChunks(ctx context.Context) (int, error)
}

// SecondaryCounter counts points in the secondary vector store.
type SecondaryCounter interface {
	CountPoints(ctx context.Context) (int, error)
}

// Drift is one reconciliation observation.
type Drift struct {
	Primary   int
	Secondary int
	Drift     int
}

// Reconciler periodically compares store counts and publishes the absolute
// difference to a gauge, a warning log, and (when nonzero) a store.drift
// event.
type Reconciler struct {
	Primary   PrimaryCounter
	Secondary SecondaryCounter
	Interval  time.Duration // default hourly
	Events    *events.Publisher
	Metrics   metrics.Metrics
	Log       logging.Logger
}

// RunOnce computes drift a single time. Read-only: consecutive runs on an
// unchanged corpus report the same drift.
func (r *Reconciler) RunOnce(ctx context.Context) (Drift, error) {
	log := r.Log
	if log == nil {
		log = logging.Noop{}
	}
	m := r.Metrics
	if m == nil {
		m = metrics.Noop{}
	}

	primary, err := r.Primary.CountChunks(ctx)
	if err != nil {
		return Drift{}, err
	}
	secondary, err := r.Secondary.CountPoints(ctx)
	if err != nil {
		return Drift{}, err
	}

	drift := primary - secondary
	if drift < 0 {
		drift = -drift
	}
	out := Drift{Primary: primary, Secondary: secondary, Drift: drift}

	m.SetGauge("store_drift", float64(drift), nil)
	if drift != 0 {
		log.Error("reconcile.drift_detected", map[string]any{
			"primary":   primary,
			"secondary": secondary,
			"drift":     drift,
		})
		r.Events.Publish("store.drift", map[string]any{
			"primary":   primary,
			"secondary": secondary,
			"drift":     drift,
		})
	} else {
		log.Debug("reconcile.in_sync", map[string]any{"count": primary})
	}
	return out, nil
}

// Run reconciles on a ticker until ctx is cancelled. A failed pass is logged
// and the schedule continues; the job itself never dies from one bad read.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log := r.Log
	if log == nil {
		log = logging.Noop{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error("reconcile.pass_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
