package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/flow"
	"github.com/spec-kit/taskflow-auth/internal/observability"
)

// FlowSweeper periodically evicts expired login flows from stores that do not
// expire entries on their own.
type FlowSweeper struct {
	sweeper  flow.Sweeper
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewFlowSweeper returns nil when store needs no sweeping or interval is disabled.
func NewFlowSweeper(store flow.Store, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *FlowSweeper {
	sweeper, ok := store.(flow.Sweeper)
	if !ok || interval <= 0 {
		return nil
	}
	return &FlowSweeper{sweeper: sweeper, interval: interval, logger: logger, metrics: metrics}
}

// Run blocks until ctx is cancelled.
func (w *FlowSweeper) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("flow sweeper started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("flow sweeper stopped")
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single eviction pass.
func (w *FlowSweeper) SweepOnce(ctx context.Context) int {
	removed, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Warn("flow sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		w.logger.Debug("expired flows removed", zap.Int("count", removed))
		w.metrics.RecordAuth(observability.AuthFlowsSwept, int64(removed))
	}
	return removed
}

// StartFlowSweeper launches the sweeper in the background. It is a no-op for
// stores that evict expired flows themselves.
func StartFlowSweeper(ctx context.Context, store flow.Store, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) {
	sweeper := NewFlowSweeper(store, interval, logger, metrics)
	if sweeper == nil {
		logger.Info("flow sweeper disabled")
		return
	}
	go sweeper.Run(ctx)
}
