package live

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"presence-service/internal/dto"
	"presence-service/internal/metrics"
)

// SummaryProvider computes the current aggregate for an organization
type SummaryProvider interface {
	GetOrganizationSummary(ctx context.Context, organizationID uuid.UUID) (*dto.PresenceSummary, error)
}

// Hub keeps per-organization subscribers and pushes them a fresh summary
// whenever the organization's presence rows change.
type Hub struct {
	provider SummaryProvider
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.Mutex
	orgs  map[uuid.UUID]*orgSubscribers
	total int
}

type orgSubscribers struct {
	// refreshing serializes recomputation so summaries reach subscribers in order
	refreshing sync.Mutex
	subs       map[*Subscription]struct{}
}

// Subscription receives summaries for one organization. Only the latest
// undelivered summary is kept; C is closed by Close.
type Subscription struct {
	OrganizationID uuid.UUID
	C              <-chan *dto.PresenceSummary

	ch     chan *dto.PresenceSummary
	last   *dto.PresenceSummary
	hub    *Hub
	closed bool
}

// NewHub creates a new Hub
func NewHub(provider SummaryProvider, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		provider: provider,
		metrics:  m,
		logger:   logger,
		orgs:     make(map[uuid.UUID]*orgSubscribers),
	}
}

// Subscribe registers a subscriber and hands it the current summary right away
func (h *Hub) Subscribe(ctx context.Context, organizationID uuid.UUID) (*Subscription, error) {
	ch := make(chan *dto.PresenceSummary, 1)
	sub := &Subscription{
		OrganizationID: organizationID,
		C:              ch,
		ch:             ch,
		hub:            h,
	}

	h.mu.Lock()
	org, ok := h.orgs[organizationID]
	if !ok {
		org = &orgSubscribers{subs: make(map[*Subscription]struct{})}
		h.orgs[organizationID] = org
	}
	org.subs[sub] = struct{}{}
	h.total++
	total := h.total
	h.mu.Unlock()

	org.refreshing.Lock()
	summary, err := h.provider.GetOrganizationSummary(ctx, organizationID)
	if err != nil {
		org.refreshing.Unlock()
		sub.Close()
		return nil, err
	}
	h.mu.Lock()
	sub.deliver(summary)
	h.mu.Unlock()
	org.refreshing.Unlock()

	h.metrics.SetLiveSubscribers(total)
	h.logger.Debug("Live presence subscriber added",
		zap.String("organization_id", organizationID.String()),
		zap.Int("subscribers", total),
	)
	return sub, nil
}

// Close unregisters the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	if org, ok := h.orgs[s.OrganizationID]; ok {
		delete(org.subs, s)
		if len(org.subs) == 0 {
			delete(h.orgs, s.OrganizationID)
		}
	}
	h.total--
	total := h.total
	close(s.ch)
	h.mu.Unlock()

	h.metrics.SetLiveSubscribers(total)
}

// deliver pushes summary unless the subscriber already has an identical one.
// A summary the subscriber has not read yet is replaced. Caller holds hub.mu.
func (s *Subscription) deliver(summary *dto.PresenceSummary) {
	if s.closed || s.last.Equal(summary) {
		return
	}
	s.last = summary

	select {
	case s.ch <- summary:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- summary:
	default:
	}
}

// Refresh recomputes an organization's summary and pushes it to its subscribers.
// Organizations nobody watches are skipped.
func (h *Hub) Refresh(ctx context.Context, organizationID uuid.UUID) {
	h.mu.Lock()
	org, ok := h.orgs[organizationID]
	h.mu.Unlock()
	if !ok {
		return
	}

	org.refreshing.Lock()
	defer org.refreshing.Unlock()

	summary, err := h.provider.GetOrganizationSummary(ctx, organizationID)
	if err != nil {
		h.logger.Error("Failed to recompute presence summary",
			zap.String("organization_id", organizationID.String()),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	for sub := range org.subs {
		sub.deliver(summary)
	}
	h.mu.Unlock()
}

// RefreshAll recomputes every watched organization. Used to resync after
// change notices may have been missed.
func (h *Hub) RefreshAll(ctx context.Context) {
	h.mu.Lock()
	orgIDs := make([]uuid.UUID, 0, len(h.orgs))
	for orgID := range h.orgs {
		orgIDs = append(orgIDs, orgID)
	}
	h.mu.Unlock()

	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			return
		}
		h.Refresh(ctx, orgID)
	}
}

// NotifyOrganizationChanged refreshes in-process subscribers
func (h *Hub) NotifyOrganizationChanged(ctx context.Context, organizationID uuid.UUID) {
	h.Refresh(ctx, organizationID)
}

// SubscriberCount returns the number of open subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Close closes every open subscription
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, h.total)
	for _, org := range h.orgs {
		for sub := range org.subs {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
