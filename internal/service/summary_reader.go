package service

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"presence-service/internal/dto"
	"presence-service/internal/repository"
	"presence-service/internal/response"
)

// SummaryReader computes organization summaries straight from the store.
// The live hub reads through it so it does not depend on the write path.
type SummaryReader struct {
	repo      repository.PresenceRepository
	clock     quartz.Clock
	staleness time.Duration
}

// NewSummaryReader creates a SummaryReader
func NewSummaryReader(repo repository.PresenceRepository, clock quartz.Clock, staleness time.Duration) *SummaryReader {
	return &SummaryReader{repo: repo, clock: clock, staleness: staleness}
}

// GetOrganizationSummary returns the current aggregate for an organization
func (r *SummaryReader) GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error) {
	records, err := r.repo.FindByOrganization(ctx, organizationID)
	if err != nil {
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load organization presence", err.Error())
	}
	return Summarize(organizationID, records, r.clock.Now(), r.staleness), nil
}
