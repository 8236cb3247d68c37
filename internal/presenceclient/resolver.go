package presenceclient

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"

	"presence-service/internal/domain"
)

// Inputs is everything the status decision depends on
type Inputs struct {
	Leaving           bool
	Explicit          *domain.PresenceStatus
	ExplicitExpiresAt *time.Time
	Active            bool
	Now               time.Time
}

func (in Inputs) overrideInEffect() bool {
	if in.Explicit == nil || !in.Explicit.IsExplicit() {
		return false
	}
	return in.ExplicitExpiresAt == nil || in.Now.Before(*in.ExplicitExpiresAt)
}

type statusRule struct {
	name    string
	applies func(Inputs) bool
	status  func(Inputs) domain.PresenceStatus
}

func constant(s domain.PresenceStatus) func(Inputs) domain.PresenceStatus {
	return func(Inputs) domain.PresenceStatus { return s }
}

// statusRules is the precedence table, highest first. The last rule always applies,
// so a live client never reports offline unless it is leaving.
var statusRules = []statusRule{
	{
		name:    "leaving",
		applies: func(in Inputs) bool { return in.Leaving },
		status:  constant(domain.PresenceStatusOffline),
	},
	{
		name:    "explicit override",
		applies: Inputs.overrideInEffect,
		status:  func(in Inputs) domain.PresenceStatus { return *in.Explicit },
	},
	{
		name:    "active",
		applies: func(in Inputs) bool { return in.Active },
		status:  constant(domain.PresenceStatusOnline),
	},
	{
		name:    "idle",
		applies: func(Inputs) bool { return true },
		status:  constant(domain.PresenceStatusAway),
	},
}

// Resolve returns the status for in. It is a pure function.
func Resolve(in Inputs) domain.PresenceStatus {
	for _, rule := range statusRules {
		if rule.applies(in) {
			return rule.status(in)
		}
	}
	return domain.PresenceStatusAway
}

// ActivitySource is the part of ActivityDetector the resolver reads
type ActivitySource interface {
	IsActive() bool
	LastActiveAt() time.Time
}

// Override is an explicit status chosen by the user
type Override struct {
	Status        domain.PresenceStatus
	ExpiresAt     *time.Time
	CustomMessage *string
}

// StatusSnapshot holds the status fields of one heartbeat
type StatusSnapshot struct {
	Status                  domain.PresenceStatus
	LastActiveAt            *time.Time
	ExplicitStatus          *domain.PresenceStatus
	ExplicitStatusExpiresAt *time.Time
	CustomMessage           *string
}

// Resolver gathers inputs from the activity detector, the override store and the clock
type Resolver struct {
	activity ActivitySource
	clock    quartz.Clock

	mu       sync.Mutex
	override *Override
	leaving  bool
}

func NewResolver(activity ActivitySource, clock quartz.Clock) *Resolver {
	return &Resolver{activity: activity, clock: clock}
}

// SetOverride stores an explicit busy/dnd status. A zero ttl never expires.
func (r *Resolver) SetOverride(status domain.PresenceStatus, ttl time.Duration, customMessage *string) error {
	if !status.IsExplicit() {
		return fmt.Errorf("status %q cannot be set explicitly", status)
	}
	if customMessage != nil && len(*customMessage) > 255 {
		return fmt.Errorf("custom message exceeds 255 characters")
	}
	o := &Override{Status: status, CustomMessage: customMessage}
	if ttl > 0 {
		expires := r.clock.Now().Add(ttl)
		o.ExpiresAt = &expires
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = o
	return nil
}

// ClearOverride removes the explicit status
func (r *Resolver) ClearOverride() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override = nil
}

// SetLeaving marks the session as closing; every later status is offline
func (r *Resolver) SetLeaving() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaving = true
}

// Current returns the status at the current clock time
func (r *Resolver) Current() domain.PresenceStatus {
	return r.Snapshot(r.clock.Now()).Status
}

// Snapshot resolves the status at now along with the fields reported next to it
func (r *Resolver) Snapshot(now time.Time) StatusSnapshot {
	r.mu.Lock()
	in := Inputs{Leaving: r.leaving, Active: r.activity.IsActive(), Now: now}
	override := r.override
	r.mu.Unlock()

	if override != nil {
		in.Explicit = &override.Status
		in.ExplicitExpiresAt = override.ExpiresAt
	}

	snap := StatusSnapshot{Status: Resolve(in)}
	lastActive := r.activity.LastActiveAt()
	if !lastActive.IsZero() {
		snap.LastActiveAt = &lastActive
	}
	if in.overrideInEffect() {
		snap.ExplicitStatus = in.Explicit
		snap.ExplicitStatusExpiresAt = in.ExplicitExpiresAt
		snap.CustomMessage = override.CustomMessage
	}
	return snap
}
