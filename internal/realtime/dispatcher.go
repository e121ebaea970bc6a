package realtime

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Dispatcher is the subscription side of a single-connection transport. The
// transport owns the connection and reports it through Connected, Failed and
// Close; Dispatcher fans changes and statuses out to the live subscriptions
// and to the observers.
//
// Failures are reported only on the way out of a healthy state, so a dial
// loop that keeps failing does not repeat them. When the connection comes
// back after a failure, observers get NetworkChanged(true): anything sent
// while it was down was never delivered.
type Dispatcher struct {
	Observers

	logger *zerolog.Logger

	mu      sync.Mutex
	status  Status
	subs    map[*localSubscription]struct{}
	stopped bool
}

func NewDispatcher(logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: orNop(logger),
		status: StatusInitializing,
		subs:   make(map[*localSubscription]struct{}),
	}
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Subscribe registers a subscription. It fails with ErrClosed after Close.
func (d *Dispatcher) Subscribe(_ context.Context, topic string, filters []Filter) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrClosed
	}
	sub := &localSubscription{
		id:      ulid.Make().String(),
		topic:   topic,
		filters: append([]Filter(nil), filters...),
		owner:   d,
	}
	if d.status == StatusConnected {
		sub.EmitStatus(StatusConnected)
	}
	d.subs[sub] = struct{}{}
	return sub, nil
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Dispatch delivers c to every subscription with a matching filter and
// returns how many received it.
func (d *Dispatcher) Dispatch(c Change) int {
	n := 0
	for _, s := range d.live() {
		if MatchAny(s.filters, c) {
			s.EmitChange(c)
			n++
		}
	}
	return n
}

func (d *Dispatcher) Connected() {
	d.mu.Lock()
	if d.stopped || d.status == StatusConnected {
		d.mu.Unlock()
		return
	}
	restored := d.status.Failed()
	d.status = StatusConnected
	d.mu.Unlock()

	d.logger.Info().Bool("restored", restored).Msg("transport connected")
	for _, s := range d.live() {
		s.EmitStatus(StatusConnected)
	}
	d.TransportStatusChanged(StatusConnected)
	if restored {
		d.NetworkChanged(true)
	}
}

// Failed reports a lost or refused connection with status s (disconnected,
// error or timed_out).
func (d *Dispatcher) Failed(s Status, err error) {
	d.mu.Lock()
	if d.stopped || d.status.Failed() {
		d.mu.Unlock()
		d.logger.Debug().Err(err).Str("status", string(s)).Msg("transport still down")
		return
	}
	d.status = s
	d.mu.Unlock()

	d.logger.Warn().Err(err).Str("status", string(s)).Msg("transport failed")
	for _, sub := range d.live() {
		sub.EmitStatus(s)
	}
	d.TransportStatusChanged(s)
}

// Close closes every subscription and refuses new ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.status = StatusClosed
	subs := make([]*localSubscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.subs = make(map[*localSubscription]struct{})
	d.mu.Unlock()

	for _, s := range subs {
		s.EmitClose()
	}
}

func (d *Dispatcher) live() []*localSubscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*localSubscription, 0, len(d.subs))
	for s := range d.subs {
		out = append(out, s)
	}
	return out
}

func (d *Dispatcher) remove(s *localSubscription) {
	d.mu.Lock()
	delete(d.subs, s)
	d.mu.Unlock()
}

type localSubscription struct {
	Emitter

	id      string
	topic   string
	filters []Filter
	owner   *Dispatcher
}

func (s *localSubscription) ID() string        { return s.id }
func (s *localSubscription) Topic() string     { return s.topic }
func (s *localSubscription) Filters() []Filter { return s.filters }

func (s *localSubscription) Unsubscribe() error {
	s.owner.remove(s)
	s.EmitClose()
	return nil
}
