package realtime

import "sync"

// Observers is a set of observers that is itself an Observer and a Source.
// Signal producers embed it and call its Observer methods; each call is
// forwarded synchronously to every attached observer. The zero value is
// ready to use.
type Observers struct {
	mu   sync.Mutex
	set  map[int]Observer
	next int
}

func (o *Observers) Observe(obs Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set == nil {
		o.set = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.set[id] = obs

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.set, id)
			o.mu.Unlock()
		})
	}
}

// Len returns the number of attached observers.
func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.set)
}

func (o *Observers) NetworkChanged(online bool) {
	for _, obs := range o.snapshot() {
		obs.NetworkChanged(online)
	}
}

func (o *Observers) TransportStatusChanged(s Status) {
	for _, obs := range o.snapshot() {
		obs.TransportStatusChanged(s)
	}
}

func (o *Observers) RecoveryRequested(reason string) {
	for _, obs := range o.snapshot() {
		obs.RecoveryRequested(reason)
	}
}

func (o *Observers) snapshot() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observer, 0, len(o.set))
	for _, obs := range o.set {
		out = append(out, obs)
	}
	return out
}
