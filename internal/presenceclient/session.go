package presenceclient

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"presence-service/internal/domain"
)

// SessionConfig configures one device-session
type SessionConfig struct {
	OrganizationID  uuid.UUID
	DeviceSessionID uuid.UUID // generated when nil
	ActiveChannelID *uuid.UUID
	Device          map[string]interface{}
	IdleThreshold   time.Duration
	Emitter         EmitterConfig
}

// Session owns one device-session: its activity detector, resolver and heartbeat emitter.
// Status changes are sent right away instead of waiting for the next tick.
type Session struct {
	detector *ActivityDetector
	resolver *Resolver
	emitter  *Emitter
	logger   *zap.Logger

	mu    sync.Mutex
	sc    SessionContext
	stop  func()
	unsub func()

	closeOnce sync.Once
}

func NewSession(sender Sender, cfg SessionConfig, clock quartz.Clock, logger *zap.Logger) *Session {
	if cfg.DeviceSessionID == uuid.Nil {
		cfg.DeviceSessionID = uuid.New()
	}
	detector := NewActivityDetector(clock, cfg.IdleThreshold)
	resolver := NewResolver(detector, clock)

	s := &Session{
		detector: detector,
		resolver: resolver,
		emitter:  NewEmitter(sender, resolver, clock, cfg.Emitter, logger),
		logger:   logger,
		sc: SessionContext{
			OrganizationID:  cfg.OrganizationID,
			DeviceSessionID: cfg.DeviceSessionID,
			ActiveChannelID: cfg.ActiveChannelID,
			Device:          cfg.Device,
		},
	}
	s.unsub = detector.Subscribe(func(bool) { s.emitter.Trigger() })
	return s
}

// DeviceSessionID returns the id heartbeats are sent under
func (s *Session) DeviceSessionID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sc.DeviceSessionID
}

// Start begins heartbeating. It is a no-op while already running.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = s.emitter.Start(ctx, s.sc)
}

// Touch records user input
func (s *Session) Touch(kind InputKind) {
	s.detector.Touch(kind)
}

// Status returns the status the next heartbeat will carry
func (s *Session) Status() domain.PresenceStatus {
	return s.resolver.Current()
}

// SetStatus sets an explicit busy/dnd status; a zero ttl never expires
func (s *Session) SetStatus(status domain.PresenceStatus, ttl time.Duration, customMessage *string) error {
	if err := s.resolver.SetOverride(status, ttl, customMessage); err != nil {
		return err
	}
	s.emitter.Trigger()
	return nil
}

// ClearStatus drops the explicit status
func (s *Session) ClearStatus() {
	s.resolver.ClearOverride()
	s.emitter.Trigger()
}

// SetActiveChannel records the channel the user is looking at; nil clears it.
// A heartbeat carrying the change is sent right away.
func (s *Session) SetActiveChannel(channelID *uuid.UUID) {
	if channelID != nil {
		id := *channelID
		channelID = &id
	}
	s.mu.Lock()
	s.sc.ActiveChannelID = channelID
	s.mu.Unlock()

	s.emitter.SetActiveChannel(channelID)
	s.emitter.Trigger()
}

// Close stops heartbeating synchronously and then fires a best-effort leaving signal
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.resolver.SetLeaving()
		s.unsub()

		s.mu.Lock()
		stop := s.stop
		sc := s.sc
		s.mu.Unlock()

		if stop != nil {
			stop()
		}
		s.detector.Close()
		if stop != nil {
			s.emitter.Leave(sc)
		}
		s.logger.Info("Presence session closed",
			zap.String("device_session_id", sc.DeviceSessionID.String()),
		)
	})
}
