package presenceclient

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"presence-service/internal/domain"
	"presence-service/internal/dto"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeSender records every attempt. respond decides the outcome of attempt n (1-based).
type fakeSender struct {
	mu       sync.Mutex
	attempts []*dto.SetPresenceRequest
	sent     []*dto.SetPresenceRequest
	leaves   chan *dto.LeaveRequest
	respond  func(ctx context.Context, n int) error
}

func newFakeSender() *fakeSender {
	return &fakeSender{leaves: make(chan *dto.LeaveRequest, 10)}
}

func (s *fakeSender) SendHeartbeat(ctx context.Context, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error) {
	s.mu.Lock()
	s.attempts = append(s.attempts, req)
	n := len(s.attempts)
	respond := s.respond
	s.mu.Unlock()

	if respond != nil {
		if err := respond(ctx, n); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	return &dto.SetPresenceResponse{Accepted: true}, nil
}

func (s *fakeSender) SendLeave(ctx context.Context, req *dto.LeaveRequest) error {
	s.leaves <- req
	return nil
}

func (s *fakeSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) lastSent() *dto.SetPresenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) attempt(i int) *dto.SetPresenceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[i]
}

// waitSent waits until exactly n heartbeats were delivered and returns the last one
func (s *fakeSender) waitSent(t *testing.T, n int) *dto.SetPresenceRequest {
	t.Helper()
	require.Eventually(t, func() bool { return s.sentCount() == n }, 2*time.Second, 5*time.Millisecond,
		"expected %d heartbeats, have %d", n, s.sentCount())
	return s.lastSent()
}

func serverError() error {
	return &StatusError{StatusCode: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE"}
}

func badRequest() error {
	return &StatusError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR"}
}

// staticSource always resolves to the same status
type staticSource domain.PresenceStatus

func (s staticSource) Snapshot(time.Time) StatusSnapshot {
	return StatusSnapshot{Status: domain.PresenceStatus(s)}
}
