package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PresenceStatus is the status a device-session advertises
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusAway    PresenceStatus = "away"
	PresenceStatusBusy    PresenceStatus = "busy"
	PresenceStatusDND     PresenceStatus = "dnd"
	PresenceStatusOffline PresenceStatus = "offline"
)

// liveness orders statuses for the per-user reduction; higher wins.
var liveness = map[PresenceStatus]int{
	PresenceStatusOffline: 0,
	PresenceStatusAway:    1,
	PresenceStatusDND:     2,
	PresenceStatusBusy:    3,
	PresenceStatusOnline:  4,
}

// IsValid reports whether s is a known status
func (s PresenceStatus) IsValid() bool {
	_, ok := liveness[s]
	return ok
}

// IsExplicit reports whether s can be chosen by the user as an override
func (s PresenceStatus) IsExplicit() bool {
	return s == PresenceStatusBusy || s == PresenceStatusDND
}

// Liveness returns the rank of s; unknown statuses rank below offline.
func (s PresenceStatus) Liveness() int {
	if rank, ok := liveness[s]; ok {
		return rank
	}
	return -1
}

// MoreLive reports whether s ranks strictly above other
func (s PresenceStatus) MoreLive(other PresenceStatus) bool {
	return s.Liveness() > other.Liveness()
}

// PresenceRecord is one row per (user, organization, device-session).
// It is the ground truth for status and last-seen time.
type PresenceRecord struct {
	UserID                  uuid.UUID         `gorm:"type:uuid;primaryKey" json:"user_id"`
	OrganizationID          uuid.UUID         `gorm:"type:uuid;primaryKey;index:idx_presence_records_org_status,priority:1" json:"organization_id"`
	DeviceSessionID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"device_session_id"`
	Status                  PresenceStatus    `gorm:"type:varchar(16);not null;index:idx_presence_records_org_status,priority:2" json:"status"`
	LastHeartbeatAt         time.Time         `gorm:"type:timestamp;not null;index:idx_presence_records_last_heartbeat_at" json:"last_heartbeat_at"`
	LastActiveAt            *time.Time        `gorm:"type:timestamp" json:"last_active_at,omitempty"`
	ExplicitStatus          *PresenceStatus   `gorm:"type:varchar(16)" json:"explicit_status,omitempty"`
	ExplicitStatusExpiresAt *time.Time        `gorm:"type:timestamp" json:"explicit_status_expires_at,omitempty"`
	CustomMessage           *string           `gorm:"type:varchar(255)" json:"custom_message,omitempty"`
	ActiveChannelID         *uuid.UUID        `gorm:"type:uuid" json:"active_channel_id,omitempty"`
	Device                  datatypes.JSONMap `json:"device,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

// TableName specifies the table name for PresenceRecord
func (PresenceRecord) TableName() string {
	return "presence_records"
}

// SessionKey identifies a device-session
type SessionKey struct {
	UserID          uuid.UUID
	OrganizationID  uuid.UUID
	DeviceSessionID uuid.UUID
}

// Key returns the identity triple of the record
func (r *PresenceRecord) Key() SessionKey {
	return SessionKey{
		UserID:          r.UserID,
		OrganizationID:  r.OrganizationID,
		DeviceSessionID: r.DeviceSessionID,
	}
}

// IsExpired reports whether the session no longer counts toward presence at now.
func (r *PresenceRecord) IsExpired(now time.Time, staleness time.Duration) bool {
	if r.Status == PresenceStatusOffline {
		return true
	}
	return now.Sub(r.LastHeartbeatAt) > staleness
}

// IsStaleCandidate reports whether the reconciliation sweep should flip the record.
func (r *PresenceRecord) IsStaleCandidate(now time.Time, staleness time.Duration) bool {
	return r.Status != PresenceStatusOffline && now.Sub(r.LastHeartbeatAt) > staleness
}
