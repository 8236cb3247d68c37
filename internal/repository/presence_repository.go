package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"presence-service/internal/database"
	"presence-service/internal/domain"
)

// upsertColumns are overwritten when a newer heartbeat arrives for an existing session
var upsertColumns = []string{
	"status",
	"last_heartbeat_at",
	"last_active_at",
	"explicit_status",
	"explicit_status_expires_at",
	"custom_message",
	"active_channel_id",
	"device",
	"updated_at",
}

// PresenceRepository defines the interface for presence data access
type PresenceRepository interface {
	// Upsert writes rec unless the stored row has a heartbeat at or after rec's.
	// applied is false when the stored row was kept.
	Upsert(ctx context.Context, rec *domain.PresenceRecord) (applied bool, err error)
	FindByKey(ctx context.Context, key domain.SessionKey) (*domain.PresenceRecord, error)
	FindByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.PresenceRecord, error)
	FindByUserInOrganization(ctx context.Context, userID, organizationID uuid.UUID) ([]*domain.PresenceRecord, error)
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PresenceRecord, error)
	MarkOffline(ctx context.Context, keys []domain.SessionKey, cutoff, now time.Time) (int64, error)
	CountNonOffline(ctx context.Context) (int64, error)
}

// presenceRepositoryImpl is the GORM implementation of PresenceRepository
type presenceRepositoryImpl struct {
	db *gorm.DB
}

// NewPresenceRepository creates a new instance of PresenceRepository
func NewPresenceRepository(db *gorm.DB) PresenceRepository {
	return &presenceRepositoryImpl{db: db}
}

// Operation labels used for query metrics
const (
	opUpsert             = "presence_upsert"
	opFindByKey          = "presence_find_by_key"
	opFindByOrganization = "presence_find_by_organization"
	opFindByUser         = "presence_find_by_user"
	opSweepScan          = "presence_sweep_scan"
	opSweepMarkOffline   = "presence_sweep_mark_offline"
	opCountNonOffline    = "presence_count_non_offline"
)

func (r *presenceRepositoryImpl) session(ctx context.Context, operation string) *gorm.DB {
	return database.WithOperation(r.db.WithContext(ctx), operation)
}

// Upsert inserts or updates a session row in a single statement.
// The ON CONFLICT guard keeps last_heartbeat_at monotonic under concurrent writers.
func (r *presenceRepositoryImpl) Upsert(ctx context.Context, rec *domain.PresenceRecord) (bool, error) {
	rec.LastHeartbeatAt = rec.LastHeartbeatAt.UTC()

	result := r.session(ctx, opUpsert).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "organization_id"},
				{Name: "device_session_id"},
			},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "presence_records.last_heartbeat_at < excluded.last_heartbeat_at"},
			}},
		}).
		Create(rec)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByKey finds a single session row
func (r *presenceRepositoryImpl) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.PresenceRecord, error) {
	var rec domain.PresenceRecord
	if err := r.session(ctx, opFindByKey).
		Where("user_id = ? AND organization_id = ? AND device_session_id = ?",
			key.UserID, key.OrganizationID, key.DeviceSessionID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByOrganization returns the organization's sessions that are not offline.
// Staleness is left to the caller, which knows the current time.
func (r *presenceRepositoryImpl) FindByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.PresenceRecord, error) {
	var records []*domain.PresenceRecord
	if err := r.session(ctx, opFindByOrganization).
		Where("organization_id = ? AND status <> ?", organizationID, domain.PresenceStatusOffline).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// FindByUserInOrganization returns every session of a user in an organization
func (r *presenceRepositoryImpl) FindByUserInOrganization(ctx context.Context, userID, organizationID uuid.UUID) ([]*domain.PresenceRecord, error) {
	var records []*domain.PresenceRecord
	if err := r.session(ctx, opFindByUser).
		Where("user_id = ? AND organization_id = ?", userID, organizationID).
		Order("last_heartbeat_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// FindStale returns up to limit non-offline sessions whose last heartbeat is before cutoff
func (r *presenceRepositoryImpl) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PresenceRecord, error) {
	var records []*domain.PresenceRecord
	if err := r.session(ctx, opSweepScan).
		Where("status <> ? AND last_heartbeat_at < ?", domain.PresenceStatusOffline, cutoff.UTC()).
		Order("last_heartbeat_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkOffline flips the given sessions to offline, but only those that are still
// stale at cutoff. A heartbeat that landed after the scan keeps its row.
// now stamps updated_at.
func (r *presenceRepositoryImpl) MarkOffline(ctx context.Context, keys []domain.SessionKey, cutoff, now time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tuples := make([][]interface{}, 0, len(keys))
	for _, k := range keys {
		tuples = append(tuples, []interface{}{k.UserID, k.OrganizationID, k.DeviceSessionID})
	}

	result := r.session(ctx, opSweepMarkOffline).
		Model(&domain.PresenceRecord{}).
		Where("(user_id, organization_id, device_session_id) IN ?", tuples).
		Where("status <> ? AND last_heartbeat_at < ?", domain.PresenceStatusOffline, cutoff.UTC()).
		Updates(map[string]interface{}{
			"status":     domain.PresenceStatusOffline,
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountNonOffline counts sessions not marked offline across all organizations
func (r *presenceRepositoryImpl) CountNonOffline(ctx context.Context) (int64, error) {
	var count int64
	if err := r.session(ctx, opCountNonOffline).
		Model(&domain.PresenceRecord{}).
		Where("status <> ?", domain.PresenceStatusOffline).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
