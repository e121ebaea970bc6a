package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Coordinator.
type Options struct {
	// Debounce is the SafeIncrement window; zero selects DefaultDebounce.
	Debounce time.Duration
	// Now is the clock; nil selects time.Now.
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Coordinator owns the shared realtime state (epoch, registry, monitor) and
// the topics bound to it. One Coordinator exists per running application.
type Coordinator struct {
	Epoch    *Epoch
	Registry *Registry
	Monitor  *Monitor

	transport Transport
	inv       Invalidator
	logger    *zerolog.Logger

	mu     sync.Mutex
	topics []*Topic
	names  map[string]struct{}
}

func New(transport Transport, inv Invalidator, opts Options) *Coordinator {
	logger := orNop(opts.Logger)
	epoch := NewEpoch(opts.Debounce, opts.Now, logger)
	registry := NewRegistry(epoch, logger)
	return &Coordinator{
		Epoch:     epoch,
		Registry:  registry,
		Monitor:   NewMonitor(epoch, registry, logger),
		transport: transport,
		inv:       inv,
		logger:    logger,
		names:     make(map[string]struct{}),
	}
}

// AddTopic declares a topic. Logical names must be unique.
func (c *Coordinator) AddTopic(cfg TopicConfig) (*Topic, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("add topic: empty name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[cfg.Name]; ok {
		return nil, fmt.Errorf("add topic %q: %w", cfg.Name, ErrDuplicateTopic)
	}
	c.names[cfg.Name] = struct{}{}
	t := newTopic(cfg, c)
	c.topics = append(c.topics, t)
	return t, nil
}

func (c *Coordinator) Topics() []*Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Topic(nil), c.topics...)
}

// Run attaches the monitor to the transport and sources, runs every topic
// until ctx is done, then tears everything down.
func (c *Coordinator) Run(ctx context.Context, sources ...Source) error {
	detach := c.Monitor.Attach(c.transport, sources...)
	defer detach()
	defer c.Registry.TeardownAll()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range c.Topics() {
		t := t
		g.Go(func() error { return t.Run(gctx) })
	}
	c.logger.Info().Int("topics", len(c.Topics())).Msg("realtime coordinator running")
	err := g.Wait()
	c.logger.Info().Msg("realtime coordinator stopped")
	return err
}

func (c *Coordinator) Snapshot() Snapshot { return c.Monitor.Snapshot() }

// RecoveryRequested forwards a manual trigger to the monitor.
func (c *Coordinator) RecoveryRequested(reason string) { c.Monitor.RecoveryRequested(reason) }
