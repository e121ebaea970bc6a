// Package realtimetest provides an in-memory transport and clock for tests.
package realtimetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Subscription is a controllable subscription handle.
type Subscription struct {
	realtime.Emitter

	id      string
	topic   string
	filters []realtime.Filter

	mu             sync.Mutex
	unsubscribed   int
	unsubscribeErr error
	panics         bool
}

func NewSubscription(id, topic string, filters ...realtime.Filter) *Subscription {
	return &Subscription{id: id, topic: topic, filters: filters}
}

func (s *Subscription) ID() string                  { return s.id }
func (s *Subscription) Topic() string               { return s.topic }
func (s *Subscription) Filters() []realtime.Filter { return s.filters }

// FailUnsubscribe makes later Unsubscribe calls return err without closing.
func (s *Subscription) FailUnsubscribe(err error) {
	s.mu.Lock()
	s.unsubscribeErr = err
	s.mu.Unlock()
}

// PanicOnUnsubscribe makes later Unsubscribe calls panic.
func (s *Subscription) PanicOnUnsubscribe() {
	s.mu.Lock()
	s.panics = true
	s.mu.Unlock()
}

func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	s.unsubscribed++
	err, panics := s.unsubscribeErr, s.panics
	s.mu.Unlock()
	if panics {
		panic("unsubscribe exploded")
	}
	if err != nil {
		return err
	}
	s.EmitClose()
	return nil
}

// Unsubscribed returns how many times Unsubscribe was called.
func (s *Subscription) Unsubscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// Transport hands out Subscriptions and records them.
type Transport struct {
	realtime.Observers

	mu     sync.Mutex
	status realtime.Status
	subs   []*Subscription
	err    error
}

func NewTransport() *Transport {
	return &Transport{status: realtime.StatusConnected}
}

func (t *Transport) Subscribe(_ context.Context, topic string, filters []realtime.Filter) (realtime.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	sub := NewSubscription(fmt.Sprintf("sub-%d", len(t.subs)+1), topic, filters...)
	t.subs = append(t.subs, sub)
	return sub, nil
}

func (t *Transport) Status() realtime.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus records s and reports it to observers.
func (t *Transport) SetStatus(s realtime.Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	t.TransportStatusChanged(s)
}

// FailSubscribe makes later Subscribe calls return err.
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Opened returns every subscription handed out, oldest first.
func (t *Transport) Opened() []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Subscription(nil), t.subs...)
}

// Live returns the subscriptions that have not been closed.
func (t *Transport) Live() []*Subscription {
	var out []*Subscription
	for _, s := range t.Opened() {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers c to every live subscription whose filters match.
func (t *Transport) Emit(c realtime.Change) {
	for _, s := range t.Live() {
		if realtime.MatchAny(s.filters, c) {
			s.EmitChange(c)
		}
	}
}

// Invalidations records invalidated keys.
type Invalidations struct {
	mu   sync.Mutex
	keys []string
}

func (i *Invalidations) Invalidate(keys ...string) {
	i.mu.Lock()
	i.keys = append(i.keys, keys...)
	i.mu.Unlock()
}

func (i *Invalidations) Keys() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.keys...)
}

func (i *Invalidations) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.keys)
}
