package metrics

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCounter struct {
	count atomic.Int64
	err   error
}

func (f *fakeCounter) CountNonOffline(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count.Load(), nil
}

type fakeStats struct{}

func (fakeStats) Stats() sql.DBStats {
	return sql.DBStats{MaxOpenConnections: 10, OpenConnections: 2}
}

func TestBusinessMetricsCollector_CollectsImmediatelyAndOnTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	m := getTestMetrics()
	counter := &fakeCounter{}
	counter.count.Store(5)

	trap := clock.Trap().NewTicker("collector")
	defer trap.Close()

	c := NewBusinessMetricsCollector(counter, fakeStats{}, m, zap.NewNop(), clock)
	go c.Start()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	assert.Equal(t, 60*time.Second, call.Duration)

	require.Eventually(t, func() bool {
		return getGaugeValue(t, m.NonOfflineSessions) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(10), getGaugeValue(t, m.DBConnectionsMax))

	counter.count.Store(9)
	clock.Advance(60 * time.Second).MustWait(ctx)

	require.Eventually(t, func() bool {
		return getGaugeValue(t, m.NonOfflineSessions) == 9
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	// stopping twice is harmless
	c.Stop()
}

func TestBusinessMetricsCollector_CountErrorKeepsLastValue(t *testing.T) {
	m := getTestMetrics()
	m.SetNonOfflineSessions(3)

	c := NewBusinessMetricsCollector(&fakeCounter{err: errors.New("db down")}, nil, m, zap.NewNop(), quartz.NewMock(t))
	c.collect()

	assert.Equal(t, float64(3), getGaugeValue(t, m.NonOfflineSessions))
}
