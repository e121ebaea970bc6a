package realtime

import "sync"

// Emitter is the listener bookkeeping shared by Subscription implementations.
// The zero value is ready to use. Listeners run outside the lock, in the
// goroutine that emits. Nothing is delivered after EmitClose.
type Emitter struct {
	mu        sync.Mutex
	listeners map[int]Listener
	next      int
	status    Status
	closed    bool
}

func (e *Emitter) Listen(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.next
	e.next++
	e.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Status returns the last emitted status, or initializing.
func (e *Emitter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == "" {
		return StatusInitializing
	}
	return e.status
}

func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) EmitChange(c Change) {
	for _, l := range e.snapshot() {
		l.OnChange(c)
	}
}

func (e *Emitter) EmitStatus(s Status) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.status = s
	e.mu.Unlock()
	for _, l := range e.snapshot() {
		l.OnStatus(s)
	}
}

// EmitClose marks the emitter closed and notifies listeners once. It reports
// whether this call performed the close.
func (e *Emitter) EmitClose() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	e.closed = true
	e.status = StatusClosed
	e.listeners = nil
	e.mu.Unlock()

	for _, l := range ls {
		l.OnClose()
	}
	return true
}

func (e *Emitter) snapshot() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	ls := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	return ls
}
