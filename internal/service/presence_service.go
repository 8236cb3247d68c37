package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presence-service/internal/config"
	"presence-service/internal/domain"
	"presence-service/internal/dto"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
	"presence-service/internal/response"
)

// ChangeNotifier is told when an organization's presence rows changed
type ChangeNotifier interface {
	NotifyOrganizationChanged(ctx context.Context, organizationID uuid.UUID)
}

// PresenceService defines the interface for presence business logic
type PresenceService interface {
	SetPresence(ctx context.Context, userID uuid.UUID, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error)
	Leave(ctx context.Context, userID uuid.UUID, req *dto.LeaveRequest) (*dto.SetPresenceResponse, error)
	GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error)
	GetUserPresence(ctx context.Context, userID, organizationID uuid.UUID) (*dto.UserPresenceResponse, error)
}

// presenceServiceImpl is the implementation of PresenceService
type presenceServiceImpl struct {
	repo     repository.PresenceRepository
	notifier ChangeNotifier
	cfg      config.PresenceConfig
	clock    quartz.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	summaries *SummaryReader
}

// NewPresenceService creates a new instance of PresenceService
func NewPresenceService(
	repo repository.PresenceRepository,
	notifier ChangeNotifier,
	cfg config.PresenceConfig,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) PresenceService {
	return &presenceServiceImpl{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		clock:    clock,
		metrics:  m,
		logger:   logger,

		summaries: NewSummaryReader(repo, clock, cfg.StalenessThreshold),
	}
}

// SetPresence applies one heartbeat. Stale and skewed writes are reported with
// accepted=false rather than as errors.
func (s *presenceServiceImpl) SetPresence(ctx context.Context, userID uuid.UUID, req *dto.SetPresenceRequest) (*dto.SetPresenceResponse, error) {
	if err := s.validateSetPresence(userID, req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rec := newRecordFromRequest(userID, req)

	if rec.LastHeartbeatAt.After(now.Add(s.cfg.ClockSkewTolerance)) {
		s.metrics.RecordHeartbeat(metrics.HeartbeatClockSkew)
		s.logger.Debug("Rejected heartbeat from the future",
			zap.String("user_id", userID.String()),
			zap.String("device_session_id", req.DeviceSessionID.String()),
			zap.Time("client_timestamp", rec.LastHeartbeatAt),
			zap.Time("server_time", now),
		)
		return &dto.SetPresenceResponse{Accepted: false, Reason: dto.ReasonClockSkew}, nil
	}

	return s.write(ctx, rec, now)
}

// Leave records the leaving signal for a device-session
func (s *presenceServiceImpl) Leave(ctx context.Context, userID uuid.UUID, req *dto.LeaveRequest) (*dto.SetPresenceResponse, error) {
	if req.UserID != nil && *req.UserID != userID {
		return nil, response.NewForbiddenError("userId does not match the authenticated user", "")
	}
	if req.OrganizationID == uuid.Nil || req.DeviceSessionID == uuid.Nil {
		return nil, response.NewValidationError("organizationId and deviceSessionId are required", "")
	}

	now := s.clock.Now()
	rec := &domain.PresenceRecord{
		UserID:          userID,
		OrganizationID:  req.OrganizationID,
		DeviceSessionID: req.DeviceSessionID,
		Status:          domain.PresenceStatusOffline,
	}

	if req.ClientTimestamp != nil {
		rec.LastHeartbeatAt = normalizeTime(*req.ClientTimestamp)
		if rec.LastHeartbeatAt.After(now.Add(s.cfg.ClockSkewTolerance)) {
			s.metrics.RecordHeartbeat(metrics.HeartbeatClockSkew)
			return &dto.SetPresenceResponse{Accepted: false, Reason: dto.ReasonClockSkew}, nil
		}
	} else {
		// server-stamped leave must land after whatever the client last sent
		rec.LastHeartbeatAt = normalizeTime(now)
		stored, err := s.repo.FindByKey(ctx, rec.Key())
		switch {
		case err == nil:
			if !stored.LastHeartbeatAt.Before(rec.LastHeartbeatAt) {
				rec.LastHeartbeatAt = normalizeTime(stored.LastHeartbeatAt.Add(time.Microsecond))
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			s.metrics.RecordHeartbeat(metrics.HeartbeatError)
			return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load presence", err.Error())
		}
	}

	return s.write(ctx, rec, now)
}

// write runs the monotonic upsert and classifies a skipped write as duplicate or stale
func (s *presenceServiceImpl) write(ctx context.Context, rec *domain.PresenceRecord, now time.Time) (*dto.SetPresenceResponse, error) {
	applied, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		s.metrics.RecordHeartbeat(metrics.HeartbeatError)
		s.logger.Error("Failed to upsert presence record",
			zap.String("user_id", rec.UserID.String()),
			zap.String("organization_id", rec.OrganizationID.String()),
			zap.String("device_session_id", rec.DeviceSessionID.String()),
			zap.Error(err),
		)
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to store presence", err.Error())
	}

	if applied {
		s.metrics.RecordHeartbeat(metrics.HeartbeatAccepted)
		s.notifier.NotifyOrganizationChanged(ctx, rec.OrganizationID)
		return &dto.SetPresenceResponse{
			Accepted: true,
			Record:   dto.ToPresenceRecordResponse(rec, now, s.cfg.StalenessThreshold),
		}, nil
	}

	stored, err := s.repo.FindByKey(ctx, rec.Key())
	if err != nil {
		s.metrics.RecordHeartbeat(metrics.HeartbeatError)
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load presence", err.Error())
	}

	if stored.LastHeartbeatAt.Equal(rec.LastHeartbeatAt) && samePayload(stored, rec) {
		s.metrics.RecordHeartbeat(metrics.HeartbeatDuplicate)
		return &dto.SetPresenceResponse{
			Accepted: true,
			Reason:   dto.ReasonDuplicate,
			Record:   dto.ToPresenceRecordResponse(stored, now, s.cfg.StalenessThreshold),
		}, nil
	}

	s.metrics.RecordHeartbeat(metrics.HeartbeatStale)
	s.logger.Debug("Ignored out-of-order heartbeat",
		zap.String("device_session_id", rec.DeviceSessionID.String()),
		zap.Time("client_timestamp", rec.LastHeartbeatAt),
		zap.Time("stored_timestamp", stored.LastHeartbeatAt),
	)
	return &dto.SetPresenceResponse{
		Accepted: false,
		Reason:   dto.ReasonStale,
		Record:   dto.ToPresenceRecordResponse(stored, now, s.cfg.StalenessThreshold),
	}, nil
}

// GetOrganizationSummary returns the current aggregate for an organization
func (s *presenceServiceImpl) GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error) {
	return s.summaries.GetOrganizationSummary(ctx, organizationID)
}

// GetUserPresence returns a user's effective presence and sessions in an organization
func (s *presenceServiceImpl) GetUserPresence(ctx context.Context, userID, organizationID uuid.UUID) (*dto.UserPresenceResponse, error) {
	records, err := s.repo.FindByUserInOrganization(ctx, userID, organizationID)
	if err != nil {
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load user presence", err.Error())
	}

	now := s.clock.Now()
	status, source := EffectiveStatus(records, now, s.cfg.StalenessThreshold)

	resp := &dto.UserPresenceResponse{
		UserID:         userID,
		OrganizationID: organizationID,
		Status:         status,
		Sessions:       make([]*dto.PresenceRecordResponse, 0, len(records)),
	}
	if source != nil {
		resp.CustomMessage = source.CustomMessage
	}
	for _, rec := range records {
		if resp.LastSeenAt == nil || rec.LastHeartbeatAt.After(*resp.LastSeenAt) {
			seen := rec.LastHeartbeatAt
			resp.LastSeenAt = &seen
		}
		resp.Sessions = append(resp.Sessions, dto.ToPresenceRecordResponse(rec, now, s.cfg.StalenessThreshold))
	}
	return resp, nil
}

func (s *presenceServiceImpl) validateSetPresence(userID uuid.UUID, req *dto.SetPresenceRequest) error {
	if req.UserID != nil && *req.UserID != userID {
		return response.NewForbiddenError("userId does not match the authenticated user", "")
	}
	if req.OrganizationID == uuid.Nil || req.DeviceSessionID == uuid.Nil {
		return response.NewValidationError("organizationId and deviceSessionId are required", "")
	}
	if !req.Status.IsValid() {
		return response.NewValidationError("Invalid status", string(req.Status))
	}
	if req.ClientTimestamp.IsZero() {
		return response.NewValidationError("clientTimestamp is required", "")
	}
	if req.ExplicitStatus != nil && !req.ExplicitStatus.IsExplicit() {
		return response.NewValidationError("explicitStatus must be busy or dnd", string(*req.ExplicitStatus))
	}
	if req.CustomMessage != nil && len(*req.CustomMessage) > 255 {
		return response.NewValidationError("customMessage must be at most 255 characters", "")
	}
	return nil
}

func newRecordFromRequest(userID uuid.UUID, req *dto.SetPresenceRequest) *domain.PresenceRecord {
	rec := &domain.PresenceRecord{
		UserID:                  userID,
		OrganizationID:          req.OrganizationID,
		DeviceSessionID:         req.DeviceSessionID,
		Status:                  req.Status,
		LastHeartbeatAt:         normalizeTime(req.ClientTimestamp),
		LastActiveAt:            normalizeTimePtr(req.LastActiveAt),
		ExplicitStatus:          req.ExplicitStatus,
		ExplicitStatusExpiresAt: normalizeTimePtr(req.ExplicitStatusExpiresAt),
		CustomMessage:           req.CustomMessage,
		ActiveChannelID:         req.ActiveChannelID,
	}
	if len(req.Device) > 0 {
		rec.Device = req.Device
	}
	return rec
}

// normalizeTime drops sub-microsecond precision the database cannot keep,
// so a retried heartbeat compares equal to its stored copy.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := normalizeTime(*t)
	return &n
}

// samePayload reports whether two rows for the same session carry the same client state
func samePayload(a, b *domain.PresenceRecord) bool {
	if a.Status != b.Status {
		return false
	}
	if !equalTimePtr(a.LastActiveAt, b.LastActiveAt) || !equalTimePtr(a.ExplicitStatusExpiresAt, b.ExplicitStatusExpiresAt) {
		return false
	}
	if !equalPtr(a.ExplicitStatus, b.ExplicitStatus) || !equalPtr(a.CustomMessage, b.CustomMessage) || !equalPtr(a.ActiveChannelID, b.ActiveChannelID) {
		return false
	}
	return equalDevice(a.Device, b.Device)
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalDevice(a, b map[string]interface{}) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
