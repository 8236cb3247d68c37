package metrics

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
)

// SessionCounter counts device-sessions that are not offline
type SessionCounter interface {
	CountNonOffline(ctx context.Context) (int64, error)
}

// DBStatsSource exposes connection pool stats (*sql.DB satisfies it)
type DBStatsSource interface {
	Stats() sql.DBStats
}

// BusinessMetricsCollector collects presence gauges periodically
type BusinessMetricsCollector struct {
	counter  SessionCounter
	stats    DBStatsSource
	metrics  *Metrics
	logger   *zap.Logger
	clock    quartz.Clock
	interval time.Duration

	mu     sync.Mutex
	ticker *quartz.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewBusinessMetricsCollector creates a new collector. stats may be nil.
func NewBusinessMetricsCollector(counter SessionCounter, stats DBStatsSource, metrics *Metrics, logger *zap.Logger, clock quartz.Clock) *BusinessMetricsCollector {
	return &BusinessMetricsCollector{
		counter:  counter,
		stats:    stats,
		metrics:  metrics,
		logger:   logger,
		clock:    clock,
		interval: 60 * time.Second,
	}
}

// Start begins collecting metrics
func (c *BusinessMetricsCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}

	c.ticker = c.clock.NewTicker(c.interval, "collector")
	c.done = make(chan struct{})
	ticker, done := c.ticker, c.done

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-done:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *BusinessMetricsCollector) Stop() {
	c.mu.Lock()
	if c.done == nil {
		c.mu.Unlock()
		return
	}
	c.ticker.Stop()
	close(c.done)
	c.done = nil
	c.mu.Unlock()

	c.wg.Wait()
}

// collect gathers presence gauges
func (c *BusinessMetricsCollector) collect() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in business metrics collection",
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := c.counter.CountNonOffline(ctx)
	if err != nil {
		c.logger.Error("Failed to count non-offline sessions", zap.Error(err))
	} else {
		c.metrics.SetNonOfflineSessions(count)
	}

	if c.stats != nil {
		c.metrics.UpdateDBStats(c.stats.Stats())
	}
}
