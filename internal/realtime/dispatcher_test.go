package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

type recordingObserver struct {
	mu       sync.Mutex
	statuses []realtime.Status
	online   []bool
}

func (r *recordingObserver) NetworkChanged(online bool) {
	r.mu.Lock()
	r.online = append(r.online, online)
	r.mu.Unlock()
}

func (r *recordingObserver) TransportStatusChanged(s realtime.Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingObserver) RecoveryRequested(string) {}

func TestDispatcherDispatch(t *testing.T) {
	d := realtime.NewDispatcher(nil)
	orders, err := d.Subscribe(context.Background(), "orders:1", []realtime.Filter{{Table: "orders"}})
	require.NoError(t, err)
	all, err := d.Subscribe(context.Background(), "relay:1", []realtime.Filter{{Table: "*"}})
	require.NoError(t, err)

	var got []int64
	orders.Listen(realtime.ListenerFuncs{Change: func(c realtime.Change) { got = append(got, c.ID) }})

	assert.Equal(t, 2, d.Dispatch(realtime.Change{Table: "orders", Event: realtime.EventInsert, ID: 1}))
	assert.Equal(t, 1, d.Dispatch(realtime.Change{Table: "expenses", Event: realtime.EventInsert, ID: 2}))
	assert.Equal(t, []int64{1}, got)
	assert.NotEqual(t, orders.ID(), all.ID())
}

func TestDispatcherStatusTransitions(t *testing.T) {
	d := realtime.NewDispatcher(nil)
	obs := &recordingObserver{}
	d.Observe(obs)
	sub, err := d.Subscribe(context.Background(), "orders:1", nil)
	require.NoError(t, err)
	assert.Equal(t, realtime.StatusInitializing, d.Status())

	d.Connected()
	d.Connected()
	assert.Equal(t, realtime.StatusConnected, sub.Status())

	d.Failed(realtime.StatusDisconnected, errors.New("conn reset"))
	d.Failed(realtime.StatusError, errors.New("dial refused"))
	assert.Equal(t, realtime.StatusDisconnected, sub.Status(), "repeated failures are not re-reported")

	d.Connected()

	assert.Equal(t, []realtime.Status{realtime.StatusConnected, realtime.StatusDisconnected, realtime.StatusConnected}, obs.statuses)
	assert.Equal(t, []bool{true}, obs.online, "restore after a failure is reported as back online")
}

func TestDispatcherNewSubscriptionSeesConnected(t *testing.T) {
	d := realtime.NewDispatcher(nil)
	d.Connected()
	sub, err := d.Subscribe(context.Background(), "orders:1", nil)
	require.NoError(t, err)
	assert.Equal(t, realtime.StatusConnected, sub.Status())
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := realtime.NewDispatcher(nil)
	sub, err := d.Subscribe(context.Background(), "orders:1", nil)
	require.NoError(t, err)

	closes := 0
	sub.Listen(realtime.ListenerFuncs{Close: func() { closes++ }})
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, realtime.StatusClosed, sub.Status())
}

func TestDispatcherClose(t *testing.T) {
	d := realtime.NewDispatcher(nil)
	sub, err := d.Subscribe(context.Background(), "orders:1", nil)
	require.NoError(t, err)

	d.Close()
	d.Close()

	assert.Equal(t, realtime.StatusClosed, sub.Status())
	assert.Equal(t, realtime.StatusClosed, d.Status())
	_, err = d.Subscribe(context.Background(), "orders:2", nil)
	assert.ErrorIs(t, err, realtime.ErrClosed)
}
