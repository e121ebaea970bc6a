package realtime

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// TopicConfig describes one business area's live subscription.
type TopicConfig struct {
	// Name is the logical topic, e.g. "orders".
	Name    string
	Filters []Filter
	// Keys are the cache keys invalidated on any matching change.
	Keys []string
	// OnChange, if set, receives every change accepted by the topic.
	OnChange func(Change)
}

// Topic keeps exactly one subscription open for its config, bound to the
// current epoch. It never retries on its own; recovery comes from the epoch.
type Topic struct {
	cfg       TopicConfig
	channel   string
	transport Transport
	registry  *Registry
	epoch     *Epoch
	inv       Invalidator
	logger    *zerolog.Logger

	mu      sync.Mutex
	current Subscription
	gen     uint64
	started bool
}

func newTopic(cfg TopicConfig, c *Coordinator) *Topic {
	logger := c.logger.With().Str("topic", cfg.Name).Logger()
	return &Topic{
		cfg:       cfg,
		channel:   cfg.Name + ":" + ulid.Make().String(),
		transport: c.transport,
		registry:  c.Registry,
		epoch:     c.Epoch,
		inv:       c.inv,
		logger:    &logger,
	}
}

func (t *Topic) Name() string { return t.cfg.Name }

// Channel is the transport-level topic name. It is unique per Topic and
// stays the same across resubscriptions.
func (t *Topic) Channel() string { return t.channel }

// Current returns the live subscription, or nil.
func (t *Topic) Current() Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Run subscribes, resubscribes on every epoch change and tears the
// subscription down when ctx is done.
func (t *Topic) Run(ctx context.Context) error {
	watch, cancel := t.epoch.Watch()
	defer cancel()
	defer t.teardown()

	t.subscribe(ctx, t.epoch.Value())
	for {
		select {
		case <-ctx.Done():
			return nil
		case gen, ok := <-watch:
			if !ok {
				return nil
			}
			t.subscribe(ctx, gen)
		}
	}
}

func (t *Topic) subscribe(ctx context.Context, gen uint64) {
	t.mu.Lock()
	if t.started && t.current != nil && t.gen == gen {
		t.mu.Unlock()
		return
	}
	resubscribe := t.started
	old := t.current
	t.current = nil
	t.gen = gen
	t.started = true
	t.mu.Unlock()

	if old != nil {
		t.registry.Teardown(old)
	}

	sub, err := t.transport.Subscribe(ctx, t.channel, t.cfg.Filters)
	if err != nil {
		t.logger.Error().Err(err).Uint64("epoch", gen).Msg("subscribe failed")
		return
	}

	t.mu.Lock()
	t.current = sub
	t.mu.Unlock()

	sub.Listen(ListenerFuncs{Change: func(c Change) { t.onChange(sub, c) }})
	t.registry.Register(sub)
	t.logger.Debug().Uint64("epoch", gen).Str("subscription", sub.ID()).Msg("subscribed")

	// Changes made while the previous subscription was down were never seen.
	if resubscribe {
		t.invalidate()
	}
}

func (t *Topic) onChange(sub Subscription, c Change) {
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()
	if current != sub {
		t.logger.Debug().Str("subscription", sub.ID()).Str("table", c.Table).Msg("change from stale subscription dropped")
		return
	}
	if !MatchAny(t.cfg.Filters, c) {
		return
	}
	t.invalidate()
	if t.cfg.OnChange != nil {
		t.cfg.OnChange(c)
	}
}

func (t *Topic) invalidate() {
	if t.inv != nil && len(t.cfg.Keys) > 0 {
		t.inv.Invalidate(t.cfg.Keys...)
	}
}

func (t *Topic) teardown() {
	t.mu.Lock()
	sub := t.current
	t.current = nil
	t.mu.Unlock()
	t.registry.Teardown(sub)
}
