package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/blueberrycongee/fincopilot/internal/metrics"
)

const defaultPoolMetricsInterval = 30 * time.Second

// poolStatser is satisfied by *sqlx.DB through its embedded *sql.DB.
type poolStatser interface {
	Stats() sql.DBStats
}

// poolMetrics refreshes the fincopilot_db_connection_* gauges for the Postgres
// pool behind the pgvector cache and the chat history. It only runs when one
// of them is configured with the postgres backend.
type poolMetrics struct {
	pool     poolStatser
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// startDBPoolMetrics publishes one snapshot right away and then one per
// interval until ctx ends or the returned stop func is called. stop waits for
// the refresher to exit. A nil pool yields a nil stop func.
func startDBPoolMetrics(ctx context.Context, pool poolStatser, logger *slog.Logger, interval time.Duration) func() {
	if pool == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultPoolMetricsInterval
	}
	pm := &poolMetrics{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	pm.refresh()
	go pm.run(ctx)

	logger.Debug("db pool metrics started", "interval", interval.String())
	return pm.stop
}

func (pm *poolMetrics) refresh() {
	stats := pm.pool.Stats()
	metrics.UpdateDBPoolStats(stats)
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		pm.logger.Warn("db pool exhausted", "in_use", stats.InUse, "wait_count", stats.WaitCount)
	}
}

func (pm *poolMetrics) run(ctx context.Context) {
	defer close(pm.done)
	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pm.refresh()
		case <-ctx.Done():
			return
		case <-pm.stopCh:
			return
		}
	}
}

func (pm *poolMetrics) stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
	<-pm.done
}
