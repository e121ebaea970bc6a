// Package realtime keeps live change-feed subscriptions consistent with a
// single process-wide epoch.
//
// Every topic subscription is bound to the current epoch. When connectivity
// or auth state changes the epoch is incremented and every running Topic
// tears down its subscription and opens a new one. Failure signals from the
// transport are debounced so a burst of them produces one rebuild.
package realtime

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by transports that no longer accept subscriptions.
	ErrClosed = errors.New("transport closed")

	// ErrDuplicateTopic is returned when two topics share a logical name.
	ErrDuplicateTopic = errors.New("duplicate topic")
)

// Status is the connection state of a transport or of a single subscription.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusClosed       Status = "closed"
	StatusTimedOut     Status = "timed_out"
)

// ParseStatus maps a status string reported by a collaborator onto a Status.
// Unrecognized values are returned unchanged; Known reports false for them.
func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether s is one of the statuses defined above.
func (s Status) Known() bool {
	switch s {
	case StatusInitializing, StatusConnected, StatusDisconnected, StatusError, StatusClosed, StatusTimedOut:
		return true
	}
	return false
}

// Failed reports whether s is an explicit failure state. Only failure states
// trigger recovery; connected, initializing and unknown values do not.
func (s Status) Failed() bool {
	switch s {
	case StatusError, StatusDisconnected, StatusClosed, StatusTimedOut:
		return true
	}
	return false
}

// EventType is the row operation carried by a change notification.
type EventType string

const (
	EventAll    EventType = "*"
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one row-level notification from the backing store.
type Change struct {
	Table string    `json:"table"`
	Event EventType `json:"event"`
	ID    int64     `json:"id"`
	At    time.Time `json:"at"`
}

// Filter selects changes by table and event. An empty or "*" table matches
// every table; an empty or "*" event matches every event.
type Filter struct {
	Table string    `json:"table"`
	Event EventType `json:"event"`
}

func (f Filter) Matches(c Change) bool {
	if f.Table != "" && f.Table != "*" && f.Table != c.Table {
		return false
	}
	return f.Event == "" || f.Event == EventAll || strings.EqualFold(string(f.Event), string(c.Event))
}

// MatchAny reports whether any filter matches c.
func MatchAny(filters []Filter, c Change) bool {
	for _, f := range filters {
		if f.Matches(c) {
			return true
		}
	}
	return false
}

// Listener receives the events of one subscription. Calls may arrive from
// transport goroutines.
type Listener interface {
	OnChange(Change)
	OnStatus(Status)
	OnClose()
}

// ListenerFuncs adapts optional funcs to a Listener.
type ListenerFuncs struct {
	Change func(Change)
	Status func(Status)
	Close  func()
}

func (l ListenerFuncs) OnChange(c Change) {
	if l.Change != nil {
		l.Change(c)
	}
}

func (l ListenerFuncs) OnStatus(s Status) {
	if l.Status != nil {
		l.Status(s)
	}
}

func (l ListenerFuncs) OnClose() {
	if l.Close != nil {
		l.Close()
	}
}

// Subscription is a handle to one open topic subscription.
type Subscription interface {
	ID() string
	Topic() string
	Filters() []Filter
	Status() Status
	// Listen attaches l and returns a func that detaches it.
	Listen(l Listener) (remove func())
	// Unsubscribe closes the subscription. It must be safe to call more than once.
	Unsubscribe() error
}

// Observer receives environment signals: network reachability, transport
// connection status and manual recovery requests.
type Observer interface {
	NetworkChanged(online bool)
	TransportStatusChanged(s Status)
	RecoveryRequested(reason string)
}

// Source delivers signals to observers until the returned stop func is called.
type Source interface {
	Observe(o Observer) (stop func())
}

// Transport opens subscriptions against the backing change feed and reports
// its own connection status to observers.
type Transport interface {
	Source
	Subscribe(ctx context.Context, topic string, filters []Filter) (Subscription, error)
	Status() Status
}

// AuthSetter is implemented by transports whose connection carries credentials.
type AuthSetter interface {
	SetAuth(token string)
}

// Invalidator marks cached read results stale.
type Invalidator interface {
	Invalidate(keys ...string)
}

// InvalidatorFunc adapts a func to an Invalidator.
type InvalidatorFunc func(keys ...string)

func (f InvalidatorFunc) Invalidate(keys ...string) { f(keys...) }

// Invalidators fans an invalidation out to several invalidators in order.
type Invalidators []Invalidator

func (iv Invalidators) Invalidate(keys ...string) {
	for _, i := range iv {
		if i != nil {
			i.Invalidate(keys...)
		}
	}
}
