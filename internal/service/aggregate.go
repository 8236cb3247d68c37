package service

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"presence-service/internal/domain"
	"presence-service/internal/dto"
)

// Summarize reduces an organization's session rows to the users currently present.
// A user counts once if any of their sessions is non-expired.
// The result depends only on its inputs; userIds are sorted.
func Summarize(organizationID uuid.UUID, records []*domain.PresenceRecord, now time.Time, staleness time.Duration) *dto.PresenceSummary {
	present := make(map[uuid.UUID]struct{})
	for _, rec := range records {
		if rec == nil || rec.OrganizationID != organizationID {
			continue
		}
		if rec.IsExpired(now, staleness) {
			continue
		}
		present[rec.UserID] = struct{}{}
	}

	userIDs := make([]uuid.UUID, 0, len(present))
	for id := range present {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool {
		return bytes.Compare(userIDs[i][:], userIDs[j][:]) < 0
	})

	return &dto.PresenceSummary{
		OrganizationID: organizationID,
		Count:          len(userIDs),
		UserIDs:        userIDs,
	}
}

// EffectiveStatus is the most live status across the non-expired sessions, or
// offline when there are none. The returned record is the session that supplied
// the status (the freshest one on ties) and is nil for offline.
func EffectiveStatus(records []*domain.PresenceRecord, now time.Time, staleness time.Duration) (domain.PresenceStatus, *domain.PresenceRecord) {
	status := domain.PresenceStatusOffline
	var source *domain.PresenceRecord

	for _, rec := range records {
		if rec == nil || rec.IsExpired(now, staleness) {
			continue
		}
		switch {
		case source == nil, rec.Status.MoreLive(status):
			status, source = rec.Status, rec
		case rec.Status == status && rec.LastHeartbeatAt.After(source.LastHeartbeatAt):
			source = rec
		}
	}
	return status, source
}
