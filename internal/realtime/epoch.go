package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDebounce is the minimum spacing between accepted SafeIncrement calls.
const DefaultDebounce = time.Second

// Epoch is the generation counter of the live connection. It is the only
// writer of the counter; everything else watches it.
type Epoch struct {
	mu       sync.Mutex
	value    uint64
	last     time.Time // last accepted SafeIncrement
	debounce time.Duration
	now      func() time.Time
	logger   *zerolog.Logger
	watchers map[chan uint64]struct{}
}

// NewEpoch creates an epoch at zero. A non-positive debounce selects
// DefaultDebounce; a nil now selects time.Now.
func NewEpoch(debounce time.Duration, now func() time.Time, logger *zerolog.Logger) *Epoch {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if now == nil {
		now = time.Now
	}
	return &Epoch{
		debounce: debounce,
		now:      now,
		logger:   orNop(logger),
		watchers: make(map[chan uint64]struct{}),
	}
}

func (e *Epoch) Value() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Increment bumps the epoch unconditionally and returns the new value.
func (e *Epoch) Increment(reason string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bumpLocked(reason)
}

// SafeIncrement bumps the epoch unless the previous accepted SafeIncrement
// happened less than the debounce window ago. It reports whether the call
// was accepted.
func (e *Epoch) SafeIncrement(reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.last.IsZero() && now.Sub(e.last) < e.debounce {
		e.logger.Debug().
			Str("reason", reason).
			Dur("since_last", now.Sub(e.last)).
			Uint64("epoch", e.value).
			Msg("epoch increment debounced")
		return false
	}
	e.last = now
	e.bumpLocked(reason)
	return true
}

// Watch returns a channel that receives the newest epoch value after every
// increment. The channel holds at most one value; a slow reader skips
// intermediate values but always sees the latest. cancel closes the channel.
func (e *Epoch) Watch() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	e.mu.Lock()
	e.watchers[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.watchers, ch)
			close(ch)
			e.mu.Unlock()
		})
	}
}

func (e *Epoch) bumpLocked(reason string) uint64 {
	e.value++
	v := e.value
	for ch := range e.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
	e.logger.Info().Str("reason", reason).Uint64("epoch", v).Msg("epoch incremented")
	return v
}

func orNop(logger *zerolog.Logger) *zerolog.Logger {
	if logger != nil {
		return logger
	}
	nop := zerolog.Nop()
	return &nop
}
