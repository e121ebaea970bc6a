package realtime_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/realtime/realtimetest"
)

func newRegistry(t *testing.T) (*realtime.Registry, *realtime.Epoch, *realtimetest.Clock) {
	t.Helper()
	clock := realtimetest.NewClock()
	epoch := realtime.NewEpoch(time.Second, clock.Now, nil)
	return realtime.NewRegistry(epoch, nil), epoch, clock
}

func TestRegisterReturnsSameSubscription(t *testing.T) {
	reg, _, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")

	got := reg.Register(a)
	assert.Same(t, a, got)
	assert.Equal(t, 1, reg.Len())

	reg.Register(a)
	assert.Equal(t, 1, reg.Len(), "registering twice keeps one entry")
	assert.Nil(t, reg.Register(nil))
}

func TestStatusGating(t *testing.T) {
	tests := []struct {
		status  realtime.Status
		recover bool
	}{
		{realtime.StatusConnected, false},
		{realtime.StatusInitializing, false},
		{realtime.ParseStatus("SUBSCRIBED"), false},
		{realtime.StatusError, true},
		{realtime.StatusDisconnected, true},
		{realtime.StatusTimedOut, true},
		{realtime.ParseStatus(" Error "), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			reg, epoch, _ := newRegistry(t)
			a := realtimetest.NewSubscription("a", "orders:1")
			reg.Register(a)

			a.EmitStatus(tt.status)

			if tt.recover {
				assert.Equal(t, uint64(1), epoch.Value())
			} else {
				assert.Equal(t, uint64(0), epoch.Value())
			}
		})
	}
}

func TestFailuresAcrossSubscriptionsAreDebounced(t *testing.T) {
	reg, epoch, clock := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	b := realtimetest.NewSubscription("b", "inventory:1")
	reg.Register(a)
	reg.Register(b)

	a.EmitStatus(realtime.StatusError)
	clock.Advance(200 * time.Millisecond)
	b.EmitStatus(realtime.StatusDisconnected)

	assert.Equal(t, uint64(1), epoch.Value())
}

func TestUnexpectedCloseTriggersRecovery(t *testing.T) {
	reg, epoch, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	reg.Register(a)

	a.EmitClose()

	assert.Equal(t, uint64(1), epoch.Value())
}

func TestTeardownDoesNotTriggerRecovery(t *testing.T) {
	reg, epoch, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	reg.Register(a)

	reg.Teardown(a)

	assert.Equal(t, 1, a.Unsubscribed())
	assert.True(t, a.Closed())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, uint64(0), epoch.Value())
}

func TestTeardownIsIdempotent(t *testing.T) {
	reg, epoch, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	reg.Register(a)

	assert.NotPanics(t, func() {
		reg.Teardown(a)
		reg.Teardown(a)
		reg.Teardown(nil)
	})
	assert.False(t, reg.Contains(a))
	assert.Equal(t, uint64(0), epoch.Value())

	closed := realtimetest.NewSubscription("c", "customers:1")
	closed.EmitClose()
	assert.NotPanics(t, func() { reg.Teardown(closed) })
	assert.Equal(t, 0, reg.Len())
}

func TestTeardownSwallowsUnsubscribeFailures(t *testing.T) {
	reg, _, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	a.FailUnsubscribe(errors.New("socket gone"))
	b := realtimetest.NewSubscription("b", "inventory:1")
	b.PanicOnUnsubscribe()
	reg.Register(a)
	reg.Register(b)

	assert.NotPanics(t, func() {
		reg.Teardown(a)
		reg.Teardown(b)
	})
	assert.Equal(t, 0, reg.Len())
}

func TestTeardownAllContinuesPastFailures(t *testing.T) {
	reg, epoch, _ := newRegistry(t)
	a := realtimetest.NewSubscription("a", "orders:1")
	a.FailUnsubscribe(errors.New("boom"))
	b := realtimetest.NewSubscription("b", "inventory:1")
	c := realtimetest.NewSubscription("c", "finance:1")
	c.PanicOnUnsubscribe()
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	require.NotPanics(t, reg.TeardownAll)

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, a.Unsubscribed())
	assert.Equal(t, 1, b.Unsubscribed())
	assert.True(t, b.Closed())
	assert.Equal(t, 1, c.Unsubscribed())
	assert.Equal(t, uint64(0), epoch.Value())
}

func TestTopicsAreSorted(t *testing.T) {
	reg, _, _ := newRegistry(t)
	reg.Register(realtimetest.NewSubscription("b", "orders:2"))
	reg.Register(realtimetest.NewSubscription("a", "customers:1"))

	assert.Equal(t, []string{"customers:1", "orders:2"}, reg.Topics())
}
