package metrics

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestMetrics() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry(), nil)
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("Failed to write counter metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := gauge.Write(metric); err != nil {
		t.Fatalf("Failed to write gauge metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestMetricsNaming_SnakeCaseWithNamespace(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry(registry, nil)

	// vectors only show up once they have a child
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RecordDBQuery("SELECT", "presence_records", time.Millisecond, nil)
	m.RecordHeartbeat(HeartbeatAccepted)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	for _, mf := range families {
		name := mf.GetName()
		assert.True(t, strings.HasPrefix(name, namespace+"_"), "metric %s lacks namespace", name)
		assert.Equal(t, strings.ToLower(name), name, "metric %s is not snake_case", name)
		assert.NotEmpty(t, mf.GetHelp(), "metric %s has no help text", name)
	}
}

func TestRecordHeartbeat(t *testing.T) {
	m := getTestMetrics()

	m.RecordHeartbeat(HeartbeatAccepted)
	m.RecordHeartbeat(HeartbeatAccepted)
	m.RecordHeartbeat(HeartbeatStale)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues(HeartbeatAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues(HeartbeatStale)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues(HeartbeatClockSkew)))
}

func TestRecordSweep(t *testing.T) {
	tests := []struct {
		name        string
		flipped     int64
		err         error
		wantFlipped float64
		wantErrors  float64
	}{
		{"nothing stale", 0, nil, 0, 0},
		{"flipped sessions", 7, nil, 7, 0},
		{"failed run", 0, sql.ErrConnDone, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := getTestMetrics()
			m.RecordSweep(25*time.Millisecond, tt.flipped, tt.err)

			assert.Equal(t, float64(1), getCounterValue(t, m.SweepRunsTotal))
			assert.Equal(t, tt.wantFlipped, getCounterValue(t, m.SessionsFlippedTotal))
			assert.Equal(t, tt.wantErrors, getCounterValue(t, m.SweepErrorsTotal))
		})
	}
}

func TestGauges(t *testing.T) {
	m := getTestMetrics()

	m.SetLiveSubscribers(3)
	m.SetNonOfflineSessions(42)
	assert.Equal(t, float64(3), getGaugeValue(t, m.LiveSubscribers))
	assert.Equal(t, float64(42), getGaugeValue(t, m.NonOfflineSessions))

	m.SetLiveSubscribers(0)
	assert.Equal(t, float64(0), getGaugeValue(t, m.LiveSubscribers))
}

func TestUpdateDBStats(t *testing.T) {
	m := getTestMetrics()

	m.UpdateDBStats(sql.DBStats{MaxOpenConnections: 25, OpenConnections: 4, InUse: 1, Idle: 3})

	assert.Equal(t, float64(25), getGaugeValue(t, m.DBConnectionsMax))
	assert.Equal(t, float64(4), getGaugeValue(t, m.DBConnectionsOpen))
	assert.Equal(t, float64(1), getGaugeValue(t, m.DBConnectionsInUse))
	assert.Equal(t, float64(3), getGaugeValue(t, m.DBConnectionsIdle))
}

func TestRecordHTTPRequest_NormalizesIDs(t *testing.T) {
	m := getTestMetrics()

	m.RecordHTTPRequest("GET", "/api/presence/organizations/123e4567-e89b-12d3-a456-426614174000", 200, time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/presence/organizations/223e4567-e89b-12d3-a456-426614174000", 404, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/presence/organizations/{id}", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/presence/organizations/{id}", "4xx")))
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{403, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeStatus(tt.code), "code %d", tt.code)
	}
}

func TestShouldSkipEndpoint(t *testing.T) {
	assert.True(t, ShouldSkipEndpoint("/metrics"))
	assert.True(t, ShouldSkipEndpoint("/health"))
	assert.True(t, ShouldSkipEndpoint("/ready"))
	assert.False(t, ShouldSkipEndpoint("/api/presence/presence"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHeartbeat(HeartbeatAccepted)
		m.RecordSweep(time.Second, 1, nil)
		m.SetLiveSubscribers(1)
	})
}

func TestSafeExecute_RecoversPanic(t *testing.T) {
	m := getTestMetrics()
	assert.NotPanics(t, func() {
		m.safeExecute("boom", func() { panic("boom") })
	})
}
