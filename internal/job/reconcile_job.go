package job

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
	"presence-service/internal/service"
)

const (
	defaultBatchSize = 500
	// maxBatchesPerRun bounds one run; leftovers are picked up by the next one
	maxBatchesPerRun = 100
	runTimeout       = 30 * time.Second
)

// ReconcileJob flips device-sessions that stopped sending heartbeats to offline
type ReconcileJob struct {
	repo      repository.PresenceRepository
	notifier  service.ChangeNotifier
	clock     quartz.Clock
	staleness time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewReconcileJob creates a new ReconcileJob instance
func NewReconcileJob(
	repo repository.PresenceRepository,
	notifier service.ChangeNotifier,
	clock quartz.Clock,
	staleness time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReconcileJob {
	return &ReconcileJob{
		repo:      repo,
		notifier:  notifier,
		clock:     clock,
		staleness: staleness,
		batchSize: defaultBatchSize,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes one sweep; it satisfies cron.Job
func (j *ReconcileJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// errors are logged and counted inside Sweep; the next run retries
	_, _ = j.Sweep(ctx)
}

// Sweep marks every session whose last heartbeat is older than the staleness
// threshold as offline and notifies the affected organizations.
// It returns the number of sessions flipped.
func (j *ReconcileJob) Sweep(ctx context.Context) (int64, error) {
	start := j.clock.Now()
	cutoff := start.Add(-j.staleness)

	var flipped int64
	affected := make(map[uuid.UUID]struct{})

	err := j.sweepBatches(ctx, cutoff, start, &flipped, affected)

	for orgID := range affected {
		j.notifier.NotifyOrganizationChanged(ctx, orgID)
	}

	j.metrics.RecordSweep(j.clock.Since(start), flipped, err)
	if err != nil {
		j.logger.Error("Offline reconciliation failed",
			zap.Time("cutoff", cutoff),
			zap.Int64("flipped", flipped),
			zap.Error(err),
		)
		return flipped, err
	}

	if flipped > 0 {
		j.logger.Info("Offline reconciliation completed",
			zap.Time("cutoff", cutoff),
			zap.Int64("flipped", flipped),
			zap.Int("organizations", len(affected)),
		)
	} else {
		j.logger.Debug("Offline reconciliation found no stale sessions", zap.Time("cutoff", cutoff))
	}
	return flipped, nil
}

func (j *ReconcileJob) sweepBatches(ctx context.Context, cutoff, now time.Time, flipped *int64, affected map[uuid.UUID]struct{}) error {
	for batch := 0; batch < maxBatchesPerRun; batch++ {
		candidates, err := j.repo.FindStale(ctx, cutoff, j.batchSize)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		keys := make([]domain.SessionKey, 0, len(candidates))
		for _, c := range candidates {
			keys = append(keys, c.Key())
		}

		n, err := j.repo.MarkOffline(ctx, keys, cutoff, now)
		if err != nil {
			return err
		}
		*flipped += n
		if n > 0 {
			for _, c := range candidates {
				affected[c.OrganizationID] = struct{}{}
			}
		}

		if len(candidates) < j.batchSize {
			return nil
		}
	}

	j.logger.Warn("Offline reconciliation hit its batch limit, continuing next run",
		zap.Int("batches", maxBatchesPerRun),
		zap.Int("batch_size", j.batchSize),
	)
	return nil
}
