package presenceclient

import (
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-service/internal/domain"
)

func statusPtr(s domain.PresenceStatus) *domain.PresenceStatus { return &s }
func timePtr(t time.Time) *time.Time                           { return &t }

func TestResolve(t *testing.T) {
	now := baseTime
	tests := []struct {
		name string
		in   Inputs
		want domain.PresenceStatus
	}{
		{"active", Inputs{Active: true, Now: now}, domain.PresenceStatusOnline},
		{"idle", Inputs{Now: now}, domain.PresenceStatusAway},
		{"busy beats active", Inputs{Active: true, Explicit: statusPtr(domain.PresenceStatusBusy), Now: now}, domain.PresenceStatusBusy},
		{"dnd while idle", Inputs{Explicit: statusPtr(domain.PresenceStatusDND), Now: now}, domain.PresenceStatusDND},
		{"override before expiry", Inputs{Explicit: statusPtr(domain.PresenceStatusBusy), ExplicitExpiresAt: timePtr(now.Add(time.Second)), Now: now}, domain.PresenceStatusBusy},
		{"override at expiry", Inputs{Active: true, Explicit: statusPtr(domain.PresenceStatusBusy), ExplicitExpiresAt: timePtr(now), Now: now}, domain.PresenceStatusOnline},
		{"expired override while idle", Inputs{Explicit: statusPtr(domain.PresenceStatusDND), ExplicitExpiresAt: timePtr(now.Add(-time.Minute)), Now: now}, domain.PresenceStatusAway},
		{"non-explicit override ignored", Inputs{Explicit: statusPtr(domain.PresenceStatusOffline), Now: now}, domain.PresenceStatusAway},
		{"leaving beats override", Inputs{Leaving: true, Active: true, Explicit: statusPtr(domain.PresenceStatusBusy), Now: now}, domain.PresenceStatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.in))
		})
	}
}

func TestProperty_LiveClientNeverResolvesOffline(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statuses := []interface{}{
		domain.PresenceStatusOnline, domain.PresenceStatusAway, domain.PresenceStatusBusy,
		domain.PresenceStatusDND, domain.PresenceStatusOffline,
	}
	inputs := gopter.CombineGens(
		gen.Bool(),
		gen.Bool(),
		gen.OneConstOf(statuses...),
		gen.Bool(),
		gen.IntRange(-600, 600),
	).Map(func(v []interface{}) Inputs {
		in := Inputs{Leaving: v[0].(bool), Active: v[1].(bool), Now: baseTime}
		if v[3].(bool) {
			in.Explicit = statusPtr(v[2].(domain.PresenceStatus))
			in.ExplicitExpiresAt = timePtr(baseTime.Add(time.Duration(v[4].(int)) * time.Second))
		}
		return in
	})

	properties.Property("offline iff leaving", prop.ForAll(
		func(in Inputs) bool {
			return (Resolve(in) == domain.PresenceStatusOffline) == in.Leaving
		},
		inputs,
	))

	properties.Property("result is always a valid status", prop.ForAll(
		func(in Inputs) bool {
			return Resolve(in).IsValid()
		},
		inputs,
	))

	properties.TestingRun(t)
}

type fakeActivity struct {
	active     bool
	lastActive time.Time
}

func (f *fakeActivity) IsActive() bool          { return f.active }
func (f *fakeActivity) LastActiveAt() time.Time { return f.lastActive }

func TestResolver_Override(t *testing.T) {
	ctx := t.Context()
	clock := quartz.NewMock(t)
	clock.Set(baseTime)
	activity := &fakeActivity{active: true, lastActive: baseTime}
	r := NewResolver(activity, clock)

	assert.Equal(t, domain.PresenceStatusOnline, r.Current())

	msg := "in a meeting"
	require.NoError(t, r.SetOverride(domain.PresenceStatusBusy, 10*time.Minute, &msg))

	snap := r.Snapshot(clock.Now())
	assert.Equal(t, domain.PresenceStatusBusy, snap.Status)
	require.NotNil(t, snap.ExplicitStatus)
	assert.Equal(t, domain.PresenceStatusBusy, *snap.ExplicitStatus)
	require.NotNil(t, snap.ExplicitStatusExpiresAt)
	assert.Equal(t, baseTime.Add(10*time.Minute), *snap.ExplicitStatusExpiresAt)
	assert.Equal(t, &msg, snap.CustomMessage)
	assert.Equal(t, baseTime, *snap.LastActiveAt)

	clock.Advance(10 * time.Minute).MustWait(ctx)
	snap = r.Snapshot(clock.Now())
	assert.Equal(t, domain.PresenceStatusOnline, snap.Status)
	assert.Nil(t, snap.ExplicitStatus)
	assert.Nil(t, snap.CustomMessage)

	activity.active = false
	assert.Equal(t, domain.PresenceStatusAway, r.Current())

	require.NoError(t, r.SetOverride(domain.PresenceStatusDND, 0, nil))
	clock.Advance(24 * time.Hour).MustWait(ctx)
	assert.Equal(t, domain.PresenceStatusDND, r.Current())

	r.ClearOverride()
	assert.Equal(t, domain.PresenceStatusAway, r.Current())

	r.SetLeaving()
	assert.Equal(t, domain.PresenceStatusOffline, r.Current())
}

func TestResolver_SetOverrideValidation(t *testing.T) {
	r := NewResolver(&fakeActivity{}, quartz.NewMock(t))

	assert.Error(t, r.SetOverride(domain.PresenceStatusOnline, 0, nil))
	assert.Error(t, r.SetOverride(domain.PresenceStatusOffline, 0, nil))

	long := strings.Repeat("x", 256)
	assert.Error(t, r.SetOverride(domain.PresenceStatusBusy, 0, &long))

	assert.Equal(t, domain.PresenceStatusAway, r.Current())
}
