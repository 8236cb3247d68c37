package presenceclient

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"presence-service/internal/domain"
)

func newTestSession(t *testing.T, sender Sender, idle time.Duration) (*Session, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(baseTime)
	cfg := SessionConfig{
		OrganizationID: uuid.New(),
		IdleThreshold:  idle,
		Emitter:        testEmitterConfig(),
	}
	return NewSession(sender, cfg, clock, zap.NewNop()), clock
}

func TestSession_AFKTransition(t *testing.T) {
	ctx := t.Context()
	sender := newFakeSender()
	s, clock := newTestSession(t, sender, 100*time.Second)
	defer s.Close()

	assert.NotEqual(t, uuid.Nil, s.DeviceSessionID())

	s.Start(ctx)
	hb := sender.waitSent(t, 1)
	assert.Equal(t, domain.PresenceStatusOnline, hb.Status)
	assert.Equal(t, s.DeviceSessionID(), hb.DeviceSessionID)

	for i := 1; i <= 3; i++ {
		clock.Advance(30 * time.Second).MustWait(ctx)
		hb = sender.waitSent(t, i+1)
		assert.Equal(t, domain.PresenceStatusOnline, hb.Status)
	}

	// the idle deadline at 100s sends an extra heartbeat right away
	clock.Advance(10 * time.Second).MustWait(ctx)
	hb = sender.waitSent(t, 5)
	assert.Equal(t, domain.PresenceStatusAway, hb.Status)
	assert.Equal(t, baseTime.Add(100*time.Second), hb.ClientTimestamp)
	require.NotNil(t, hb.LastActiveAt)
	assert.Equal(t, baseTime, *hb.LastActiveAt)
	assert.Equal(t, domain.PresenceStatusAway, s.Status())

	clock.Advance(20 * time.Second).MustWait(ctx)
	hb = sender.waitSent(t, 6)
	assert.Equal(t, domain.PresenceStatusAway, hb.Status)

	s.Touch(InputKeyboard)
	hb = sender.waitSent(t, 7)
	assert.Equal(t, domain.PresenceStatusOnline, hb.Status)
	assert.Equal(t, baseTime.Add(120*time.Second), *hb.LastActiveAt)
}

func TestSession_ExplicitStatus(t *testing.T) {
	ctx := t.Context()
	sender := newFakeSender()
	s, _ := newTestSession(t, sender, 5*time.Minute)
	defer s.Close()

	s.Start(ctx)
	sender.waitSent(t, 1)

	msg := "heads down"
	require.NoError(t, s.SetStatus(domain.PresenceStatusDND, time.Hour, &msg))
	hb := sender.waitSent(t, 2)
	assert.Equal(t, domain.PresenceStatusDND, hb.Status)
	require.NotNil(t, hb.ExplicitStatus)
	assert.Equal(t, domain.PresenceStatusDND, *hb.ExplicitStatus)
	assert.Equal(t, baseTime.Add(time.Hour), *hb.ExplicitStatusExpiresAt)
	assert.Equal(t, &msg, hb.CustomMessage)

	assert.Error(t, s.SetStatus(domain.PresenceStatusAway, 0, nil))

	s.ClearStatus()
	hb = sender.waitSent(t, 3)
	assert.Equal(t, domain.PresenceStatusOnline, hb.Status)
	assert.Nil(t, hb.ExplicitStatus)
}

func TestSession_SetActiveChannel(t *testing.T) {
	ctx := t.Context()
	sender := newFakeSender()
	s, clock := newTestSession(t, sender, 5*time.Minute)
	defer s.Close()

	general := uuid.New()
	s.SetActiveChannel(&general)

	s.Start(ctx)
	hb := sender.waitSent(t, 1)
	require.NotNil(t, hb.ActiveChannelID)
	assert.Equal(t, general, *hb.ActiveChannelID)

	random := uuid.New()
	s.SetActiveChannel(&random)
	hb = sender.waitSent(t, 2)
	require.NotNil(t, hb.ActiveChannelID)
	assert.Equal(t, random, *hb.ActiveChannelID)

	clock.Advance(30 * time.Second).MustWait(ctx)
	hb = sender.waitSent(t, 3)
	assert.Equal(t, random, *hb.ActiveChannelID)

	s.SetActiveChannel(nil)
	hb = sender.waitSent(t, 4)
	assert.Nil(t, hb.ActiveChannelID)
}

func TestSession_Close(t *testing.T) {
	ctx := t.Context()
	sender := newFakeSender()
	s, _ := newTestSession(t, sender, 5*time.Minute)

	s.Start(ctx)
	sender.waitSent(t, 1)

	s.Close()
	s.Close()

	select {
	case req := <-sender.leaves:
		assert.Equal(t, s.DeviceSessionID(), req.DeviceSessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("leave not sent")
	}

	assert.Equal(t, domain.PresenceStatusOffline, s.Status())
	s.Touch(InputKeyboard)
	assert.Never(t, func() bool { return sender.attemptCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Len(t, sender.leaves, 0)
}

func TestSession_CloseWithoutStartSendsNothing(t *testing.T) {
	sender := newFakeSender()
	s, _ := newTestSession(t, sender, 5*time.Minute)

	s.Close()

	assert.Equal(t, 0, sender.attemptCount())
	assert.Len(t, sender.leaves, 0)
}
