package presenceclient

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"presence-service/internal/dto"
)

const (
	leaveTimeout = 5 * time.Second
	// stampPrecision matches the precision the server stores heartbeat times at
	stampPrecision = time.Microsecond
)

// SessionContext identifies the device-session a heartbeat belongs to
type SessionContext struct {
	OrganizationID  uuid.UUID
	DeviceSessionID uuid.UUID
	ActiveChannelID *uuid.UUID
	Device          map[string]interface{}
}

// StatusSource provides the status fields of each heartbeat
type StatusSource interface {
	Snapshot(now time.Time) StatusSnapshot
}

// EmitterConfig holds the heartbeat cadence and retry policy
type EmitterConfig struct {
	Interval   time.Duration
	MaxRetries int
	// InitialBackoff and MaxBackoff bound the wait between retries of one tick
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultEmitterConfig returns a 30s cadence with 3 retries per tick
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		Interval:       30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Emitter sends a heartbeat immediately and then at a fixed interval while running.
// Each tick runs on its own goroutine, so a slow or failing send never delays the next one.
type Emitter struct {
	sender Sender
	source StatusSource
	clock  quartz.Clock
	cfg    EmitterConfig
	logger *zap.Logger

	mu      sync.Mutex
	running *emitterRun
	// lastStamp is the latest clientTimestamp sent, at stampPrecision
	lastStamp time.Time
}

type emitterRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	ticker quartz.Waiter

	mu      sync.Mutex
	sc      SessionContext
	stopped bool
	ticks   sync.WaitGroup

	stopOnce sync.Once
	stop     func()
}

func NewEmitter(sender Sender, source StatusSource, clock quartz.Clock, cfg EmitterConfig, logger *zap.Logger) *Emitter {
	return &Emitter{
		sender: sender,
		source: source,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins emitting for sc. Calling Start while running returns the existing stop func.
// stop cancels in-flight sends and returns only after every tick goroutine has exited.
func (e *Emitter) Start(ctx context.Context, sc SessionContext) (stop func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running != nil {
		return e.running.stop
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &emitterRun{ctx: runCtx, cancel: cancel, sc: sc}
	r.stop = func() { r.stopOnce.Do(func() { e.halt(r) }) }
	e.running = r

	e.launch(r)
	r.ticker = e.clock.TickerFunc(runCtx, e.cfg.Interval, func() error {
		e.launch(r)
		return nil
	}, "emitter", "heartbeat")

	e.logger.Debug("Heartbeat emitter started",
		zap.String("organization_id", sc.OrganizationID.String()),
		zap.String("device_session_id", sc.DeviceSessionID.String()),
		zap.Duration("interval", e.cfg.Interval),
	)
	return r.stop
}

// Trigger sends an extra heartbeat now if the emitter is running
func (e *Emitter) Trigger() {
	e.mu.Lock()
	r := e.running
	e.mu.Unlock()
	if r != nil {
		e.launch(r)
	}
}

// SetActiveChannel changes the channel carried by every later heartbeat of the current run
func (e *Emitter) SetActiveChannel(channelID *uuid.UUID) {
	e.mu.Lock()
	r := e.running
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sc.ActiveChannelID = channelID
	r.mu.Unlock()
}

// Running reports whether Start has been called without a matching stop
func (e *Emitter) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running != nil
}

func (e *Emitter) halt(r *emitterRun) {
	r.mu.Lock()
	r.stopped = true
	deviceSessionID := r.sc.DeviceSessionID
	r.mu.Unlock()

	r.cancel()
	_ = r.ticker.Wait()
	r.ticks.Wait()

	e.mu.Lock()
	if e.running == r {
		e.running = nil
	}
	e.mu.Unlock()
	e.logger.Debug("Heartbeat emitter stopped",
		zap.String("device_session_id", deviceSessionID.String()),
	)
}

func (e *Emitter) launch(r *emitterRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	sc := r.sc
	r.ticks.Add(1)
	go func() {
		defer r.ticks.Done()
		e.tick(r.ctx, sc)
	}()
}

// tick sends one heartbeat, retrying the same payload so the server sees retries as duplicates
func (e *Emitter) tick(ctx context.Context, sc SessionContext) {
	now := e.clock.Now()
	snap := e.source.Snapshot(now)
	e.noteStamp(now)
	req := &dto.SetPresenceRequest{
		OrganizationID:          sc.OrganizationID,
		DeviceSessionID:         sc.DeviceSessionID,
		Status:                  snap.Status,
		ClientTimestamp:         now.UTC(),
		LastActiveAt:            snap.LastActiveAt,
		ExplicitStatus:          snap.ExplicitStatus,
		ExplicitStatusExpiresAt: snap.ExplicitStatusExpiresAt,
		CustomMessage:           snap.CustomMessage,
		ActiveChannelID:         sc.ActiveChannelID,
		Device:                  sc.Device,
	}

	var resp *dto.SetPresenceResponse
	operation := func() error {
		var err error
		resp, err = e.sender.SendHeartbeat(ctx, req)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("Heartbeat send failed, retrying",
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, e.newBackOff(ctx), notify, &clockTimer{clock: e.clock})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("Heartbeat dropped",
			zap.String("device_session_id", sc.DeviceSessionID.String()),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
		return
	}
	if resp != nil && !resp.Accepted {
		e.logger.Warn("Heartbeat rejected by server",
			zap.String("device_session_id", sc.DeviceSessionID.String()),
			zap.String("reason", resp.Reason),
		)
	}
}

func (e *Emitter) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.InitialBackoff
	exp.MaxInterval = e.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.cfg.MaxRetries)), ctx)
}

func (e *Emitter) noteStamp(t time.Time) {
	t = t.UTC().Truncate(stampPrecision)
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.After(e.lastStamp) {
		e.lastStamp = t
	}
}

// leaveStamp returns a timestamp strictly after every heartbeat sent so far,
// otherwise the server would treat the leave as stale
func (e *Emitter) leaveStamp() time.Time {
	ts := e.clock.Now().UTC().Truncate(stampPrecision)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !ts.After(e.lastStamp) {
		ts = e.lastStamp.Add(stampPrecision)
	}
	e.lastStamp = ts
	return ts
}

// Leave sends a best-effort offline signal in the background. Delivery is not awaited.
func (e *Emitter) Leave(sc SessionContext) {
	ts := e.leaveStamp()
	req := &dto.LeaveRequest{
		OrganizationID:  sc.OrganizationID,
		DeviceSessionID: sc.DeviceSessionID,
		ClientTimestamp: &ts,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := e.sender.SendLeave(ctx, req); err != nil {
			e.logger.Debug("Leaving signal not delivered",
				zap.String("device_session_id", sc.DeviceSessionID.String()),
				zap.Error(err),
			)
		}
	}()
}

// clockTimer drives backoff waits from the injected clock
type clockTimer struct {
	clock quartz.Clock
	timer *quartz.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d, "emitter", "retry")
		return
	}
	t.timer.Reset(d, "emitter", "retry")
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop("emitter", "retry")
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
