package main

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/fincopilot/internal/metrics"
)

type stubPool struct {
	mu    sync.Mutex
	stats sql.DBStats
	reads int
}

func (p *stubPool) Stats() sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return p.stats
}

func (p *stubPool) set(s sql.DBStats) {
	p.mu.Lock()
	p.stats = s
	p.mu.Unlock()
}

func (p *stubPool) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func TestStartDBPoolMetrics(t *testing.T) {
	t.Run("should publish a snapshot immediately", func(t *testing.T) {
		pool := &stubPool{stats: sql.DBStats{OpenConnections: 6, InUse: 2, Idle: 4, MaxOpenConnections: 25}}
		stop := startDBPoolMetrics(context.Background(), pool, discardLogger(), time.Hour)
		require.NotNil(t, stop)
		defer stop()

		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DBConnectionPoolSize.WithLabelValues("active")))
		assert.Equal(t, 4.0, testutil.ToFloat64(metrics.DBConnectionPoolSize.WithLabelValues("idle")))
		assert.Equal(t, 25.0, testutil.ToFloat64(metrics.DBConnectionPoolSize.WithLabelValues("max")))
	})

	t.Run("should refresh on every tick", func(t *testing.T) {
		pool := &stubPool{stats: sql.DBStats{InUse: 1, MaxOpenConnections: 25}}
		stop := startDBPoolMetrics(context.Background(), pool, discardLogger(), 5*time.Millisecond)
		defer stop()

		pool.set(sql.DBStats{InUse: 25, MaxOpenConnections: 25, WaitCount: 3})
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(metrics.DBWaitCount) == 3
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("should stop refreshing after stop", func(t *testing.T) {
		pool := &stubPool{}
		stop := startDBPoolMetrics(context.Background(), pool, discardLogger(), time.Millisecond)
		stop()
		stop()

		reads := pool.readCount()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, reads, pool.readCount())
	})

	t.Run("should stop with the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		stop := startDBPoolMetrics(ctx, &stubPool{}, discardLogger(), time.Millisecond)
		cancel()

		done := make(chan struct{})
		go func() { stop(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("refresher did not exit after cancellation")
		}
	})

	t.Run("should skip a nil pool", func(t *testing.T) {
		assert.Nil(t, startDBPoolMetrics(context.Background(), nil, nil, time.Hour))
	})
}
