package metrics

import "time"

// RecordHeartbeat counts one presence write by outcome
func (m *Metrics) RecordHeartbeat(result string) {
	m.safeExecute("RecordHeartbeat", func() {
		m.HeartbeatsTotal.WithLabelValues(result).Inc()
	})
}

// RecordSweep records one reconciliation run
func (m *Metrics) RecordSweep(duration time.Duration, flipped int64, err error) {
	m.safeExecute("RecordSweep", func() {
		m.SweepRunsTotal.Inc()
		m.SweepDuration.Observe(duration.Seconds())
		if err != nil {
			m.SweepErrorsTotal.Inc()
		}
		if flipped > 0 {
			m.SessionsFlippedTotal.Add(float64(flipped))
		}
	})
}

// SetLiveSubscribers sets the live stream subscriber gauge
func (m *Metrics) SetLiveSubscribers(count int) {
	m.safeExecute("SetLiveSubscribers", func() {
		m.LiveSubscribers.Set(float64(count))
	})
}

// SetNonOfflineSessions sets the non-offline sessions gauge
func (m *Metrics) SetNonOfflineSessions(count int64) {
	m.safeExecute("SetNonOfflineSessions", func() {
		m.NonOfflineSessions.Set(float64(count))
	})
}
