package dto

import (
	"time"

	"github.com/google/uuid"

	"presence-service/internal/domain"
)

// Rejection reasons reported with accepted=false (or accepted=true for duplicates)
const (
	ReasonStale     = "stale"
	ReasonClockSkew = "clock_skew"
	ReasonDuplicate = "duplicate"
)

// SetPresenceRequest is one heartbeat or explicit status change from a device-session.
// userId is optional; when present it must match the authenticated user.
type SetPresenceRequest struct {
	UserID                  *uuid.UUID             `json:"userId,omitempty"`
	OrganizationID          uuid.UUID              `json:"organizationId" binding:"required"`
	DeviceSessionID         uuid.UUID              `json:"deviceSessionId" binding:"required"`
	Status                  domain.PresenceStatus  `json:"status" binding:"required"`
	ClientTimestamp         time.Time              `json:"clientTimestamp" binding:"required"`
	LastActiveAt            *time.Time             `json:"lastActiveAt,omitempty"`
	ExplicitStatus          *domain.PresenceStatus `json:"explicitStatus,omitempty"`
	ExplicitStatusExpiresAt *time.Time             `json:"explicitStatusExpiresAt,omitempty"`
	CustomMessage           *string                `json:"customMessage,omitempty" binding:"omitempty,max=255"`
	ActiveChannelID         *uuid.UUID             `json:"activeChannelId,omitempty"`
	Device                  map[string]interface{} `json:"device,omitempty"`
}

// LeaveRequest is the leaving beacon sent when a tab or agent goes away.
// clientTimestamp falls back to server time when omitted.
type LeaveRequest struct {
	UserID          *uuid.UUID `json:"userId,omitempty"`
	OrganizationID  uuid.UUID  `json:"organizationId" binding:"required"`
	DeviceSessionID uuid.UUID  `json:"deviceSessionId" binding:"required"`
	ClientTimestamp *time.Time `json:"clientTimestamp,omitempty"`
}

// SetPresenceResponse reports whether the write took effect
type SetPresenceResponse struct {
	Accepted bool                    `json:"accepted"`
	Reason   string                  `json:"reason,omitempty"`
	Record   *PresenceRecordResponse `json:"record,omitempty"`
}

// PresenceRecordResponse is a device-session row as exposed over the API
type PresenceRecordResponse struct {
	UserID                  uuid.UUID              `json:"userId"`
	OrganizationID          uuid.UUID              `json:"organizationId"`
	DeviceSessionID         uuid.UUID              `json:"deviceSessionId"`
	Status                  domain.PresenceStatus  `json:"status"`
	LastHeartbeatAt         time.Time              `json:"lastHeartbeatAt"`
	LastActiveAt            *time.Time             `json:"lastActiveAt,omitempty"`
	ExplicitStatus          *domain.PresenceStatus `json:"explicitStatus,omitempty"`
	ExplicitStatusExpiresAt *time.Time             `json:"explicitStatusExpiresAt,omitempty"`
	CustomMessage           *string                `json:"customMessage,omitempty"`
	ActiveChannelID         *uuid.UUID             `json:"activeChannelId,omitempty"`
	Device                  map[string]interface{} `json:"device,omitempty"`
	Expired                 bool                   `json:"expired"`
}

// PresenceSummary is the per-organization aggregate pushed to online indicators
type PresenceSummary struct {
	OrganizationID uuid.UUID   `json:"organizationId"`
	Count          int         `json:"count"`
	UserIDs        []uuid.UUID `json:"userIds"`
}

// Equal reports whether two summaries describe the same set of online users
func (s *PresenceSummary) Equal(other *PresenceSummary) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.OrganizationID != other.OrganizationID || s.Count != other.Count || len(s.UserIDs) != len(other.UserIDs) {
		return false
	}
	for i := range s.UserIDs {
		if s.UserIDs[i] != other.UserIDs[i] {
			return false
		}
	}
	return true
}

// UserPresenceResponse is a user's effective presence in one organization
type UserPresenceResponse struct {
	UserID         uuid.UUID                 `json:"userId"`
	OrganizationID uuid.UUID                 `json:"organizationId"`
	Status         domain.PresenceStatus     `json:"status"`
	CustomMessage  *string                   `json:"customMessage,omitempty"`
	LastSeenAt     *time.Time                `json:"lastSeenAt,omitempty"`
	Sessions       []*PresenceRecordResponse `json:"sessions"`
}

// ToPresenceRecordResponse maps a stored row to its API form
func ToPresenceRecordResponse(rec *domain.PresenceRecord, now time.Time, staleness time.Duration) *PresenceRecordResponse {
	if rec == nil {
		return nil
	}
	return &PresenceRecordResponse{
		UserID:                  rec.UserID,
		OrganizationID:          rec.OrganizationID,
		DeviceSessionID:         rec.DeviceSessionID,
		Status:                  rec.Status,
		LastHeartbeatAt:         rec.LastHeartbeatAt,
		LastActiveAt:            rec.LastActiveAt,
		ExplicitStatus:          rec.ExplicitStatus,
		ExplicitStatusExpiresAt: rec.ExplicitStatusExpiresAt,
		CustomMessage:           rec.CustomMessage,
		ActiveChannelID:         rec.ActiveChannelID,
		Device:                  rec.Device,
		Expired:                 rec.IsExpired(now, staleness),
	}
}
