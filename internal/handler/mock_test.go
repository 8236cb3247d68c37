package handler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"presence-service/internal/dto"
	"presence-service/internal/live"
)

// MockPresenceService is a mock implementation of service.PresenceService
type MockPresenceService struct {
	SetPresenceFunc            func(ctx context.Context, userID uuid.UUID, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error)
	LeaveFunc                  func(ctx context.Context, userID uuid.UUID, req *dto.LeaveRequest) (*dto.SetPresenceResponse, error)
	GetOrganizationSummaryFunc func(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error)
	GetUserPresenceFunc        func(ctx context.Context, userID, organizationID uuid.UUID) (*dto.UserPresenceResponse, error)
}

func (m *MockPresenceService) SetPresence(ctx context.Context, userID uuid.UUID, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error) {
	if m.SetPresenceFunc != nil {
		return m.SetPresenceFunc(ctx, userID, req)
	}
	return &dto.SetPresenceResponse{Accepted: true}, nil
}

func (m *MockPresenceService) Leave(ctx context.Context, userID uuid.UUID, req *dto.LeaveRequest) (*dto.SetPresenceResponse, error) {
	if m.LeaveFunc != nil {
		return m.LeaveFunc(ctx, userID, req)
	}
	return &dto.SetPresenceResponse{Accepted: true}, nil
}

func (m *MockPresenceService) GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error) {
	if m.GetOrganizationSummaryFunc != nil {
		return m.GetOrganizationSummaryFunc(ctx, organizationID)
	}
	return &dto.PresenceSummary{OrganizationID: organizationID, UserIDs: []uuid.UUID{}}, nil
}

func (m *MockPresenceService) GetUserPresence(ctx context.Context, userID, organizationID uuid.UUID) (*dto.UserPresenceResponse, error) {
	if m.GetUserPresenceFunc != nil {
		return m.GetUserPresenceFunc(ctx, userID, organizationID)
	}
	return nil, nil
}

// summaryStore feeds a live.Hub in websocket tests
type summaryStore struct {
	mu    sync.Mutex
	users []uuid.UUID
	err   error
}

func (s *summaryStore) set(users ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
}

func (s *summaryStore) GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	users := append([]uuid.UUID{}, s.users...)
	return &dto.PresenceSummary{OrganizationID: organizationID, Count: len(users), UserIDs: users}, nil
}

var _ live.SummaryProvider = (*summaryStore)(nil)
