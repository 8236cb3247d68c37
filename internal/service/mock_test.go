package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"presence-service/internal/domain"
)

// MockPresenceRepository is a mock implementation of PresenceRepository
type MockPresenceRepository struct {
	UpsertFunc                   func(ctx context.Context, rec *domain.PresenceRecord) (bool, error)
	FindByKeyFunc                func(ctx context.Context, key domain.SessionKey) (*domain.PresenceRecord, error)
	FindByOrganizationFunc       func(ctx context.Context, organizationID uuid.UUID) ([]*domain.PresenceRecord, error)
	FindByUserInOrganizationFunc func(ctx context.Context, userID, organizationID uuid.UUID) ([]*domain.PresenceRecord, error)
	FindStaleFunc                func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PresenceRecord, error)
	MarkOfflineFunc              func(ctx context.Context, keys []domain.SessionKey, cutoff, now time.Time) (int64, error)
	CountNonOfflineFunc          func(ctx context.Context) (int64, error)
}

func (m *MockPresenceRepository) Upsert(ctx context.Context, rec *domain.PresenceRecord) (bool, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, rec)
	}
	return true, nil
}

func (m *MockPresenceRepository) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.PresenceRecord, error) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}
	return nil, nil
}

func (m *MockPresenceRepository) FindByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.PresenceRecord, error) {
	if m.FindByOrganizationFunc != nil {
		return m.FindByOrganizationFunc(ctx, organizationID)
	}
	return nil, nil
}

func (m *MockPresenceRepository) FindByUserInOrganization(ctx context.Context, userID, organizationID uuid.UUID) ([]*domain.PresenceRecord, error) {
	if m.FindByUserInOrganizationFunc != nil {
		return m.FindByUserInOrganizationFunc(ctx, userID, organizationID)
	}
	return nil, nil
}

func (m *MockPresenceRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PresenceRecord, error) {
	if m.FindStaleFunc != nil {
		return m.FindStaleFunc(ctx, cutoff, limit)
	}
	return nil, nil
}

func (m *MockPresenceRepository) MarkOffline(ctx context.Context, keys []domain.SessionKey, cutoff, now time.Time) (int64, error) {
	if m.MarkOfflineFunc != nil {
		return m.MarkOfflineFunc(ctx, keys, cutoff, now)
	}
	return 0, nil
}

func (m *MockPresenceRepository) CountNonOffline(ctx context.Context) (int64, error) {
	if m.CountNonOfflineFunc != nil {
		return m.CountNonOfflineFunc(ctx)
	}
	return 0, nil
}

// recordingNotifier remembers every organization it was told about
type recordingNotifier struct {
	mu   sync.Mutex
	orgs []uuid.UUID
}

func (n *recordingNotifier) NotifyOrganizationChanged(ctx context.Context, organizationID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orgs = append(n.orgs, organizationID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orgs)
}
