package realtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds every open subscription so they can be torn down together.
// It does not own the subscriptions; the Topic that opened one does.
type Registry struct {
	mu      sync.Mutex
	entries map[Subscription]func() // value detaches the registry listener
	epoch   *Epoch
	logger  *zerolog.Logger
}

func NewRegistry(epoch *Epoch, logger *zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[Subscription]func()),
		epoch:   epoch,
		logger:  orNop(logger),
	}
}

// Register adds sub to the set and escalates its failure states and
// unexpected closes to the epoch. It returns sub.
func (r *Registry) Register(sub Subscription) Subscription {
	if sub == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sub]; ok {
		return sub
	}
	r.entries[sub] = sub.Listen(ListenerFuncs{
		Status: func(s Status) { r.onStatus(sub, s) },
		Close:  func() { r.onClose(sub) },
	})
	r.logger.Debug().Str("topic", sub.Topic()).Str("subscription", sub.ID()).Msg("subscription registered")
	return sub
}

// Teardown removes sub from the set and unsubscribes it. It never fails;
// unsubscribe errors are logged.
func (r *Registry) Teardown(sub Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	detach, ok := r.entries[sub]
	delete(r.entries, sub)
	r.mu.Unlock()

	if ok {
		detach()
	}
	r.unsubscribe(sub)
}

// TeardownAll unsubscribes every registered subscription, continuing past
// individual failures, and empties the set.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Subscription]func())
	r.mu.Unlock()

	for sub, detach := range entries {
		detach()
		r.unsubscribe(sub)
	}
	if len(entries) > 0 {
		r.logger.Info().Int("subscriptions", len(entries)).Msg("all subscriptions torn down")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) Contains(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sub]
	return ok
}

// Topics returns the transport-level topic names of registered subscriptions, sorted.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for sub := range r.entries {
		out = append(out, sub.Topic())
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) onStatus(sub Subscription, s Status) {
	if !s.Failed() {
		if !s.Known() {
			r.logger.Warn().Str("topic", sub.Topic()).Str("status", string(s)).Msg("unrecognized subscription status ignored")
			return
		}
		r.logger.Debug().Str("topic", sub.Topic()).Str("status", string(s)).Msg("subscription status")
		return
	}
	if !r.Contains(sub) {
		return
	}
	r.logger.Warn().Str("topic", sub.Topic()).Str("status", string(s)).Msg("subscription failed")
	r.epoch.SafeIncrement(fmt.Sprintf("subscription %s %s", sub.Topic(), s))
}

func (r *Registry) onClose(sub Subscription) {
	if !r.Contains(sub) {
		return
	}
	r.logger.Warn().Str("topic", sub.Topic()).Msg("registered subscription closed")
	r.epoch.SafeIncrement(fmt.Sprintf("subscription %s closed", sub.Topic()))
}

func (r *Registry) unsubscribe(sub Subscription) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("topic", sub.Topic()).Interface("panic", p).Msg("unsubscribe panicked")
		}
	}()
	if err := sub.Unsubscribe(); err != nil {
		r.logger.Warn().Err(err).Str("topic", sub.Topic()).Msg("unsubscribe failed")
	}
}
