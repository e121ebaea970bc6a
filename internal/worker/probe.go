package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

// CheckFunc reports whether the network path it checks is up.
type CheckFunc func(ctx context.Context) error

// Probe runs a health check on an interval and reports online/offline
// transitions to its observers. It starts out assuming online, so only a
// failure (and the recovery after it) is ever reported.
type Probe struct {
	realtime.Observers

	check    CheckFunc
	interval time.Duration
	timeout  time.Duration
	logger   *zerolog.Logger

	online bool
}

func NewProbe(check CheckFunc, interval time.Duration, logger *zerolog.Logger) *Probe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "probe").Logger()
	timeout := interval
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Probe{check: check, interval: interval, timeout: timeout, logger: &l, online: true}
}

// Run checks until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step(ctx)
		}
	}
}

// Step runs one check and reports a transition if there was one.
func (p *Probe) Step(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(cctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	online := err == nil
	if online == p.online {
		return
	}
	p.online = online
	if online {
		p.logger.Info().Msg("network back online")
	} else {
		p.logger.Warn().Err(err).Msg("network offline")
	}
	p.NetworkChanged(online)
}
