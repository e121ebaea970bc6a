package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/topics"
	"github.com/jsherman999/tailorboard/internal/watcher"
	"github.com/jsherman999/tailorboard/internal/worker"
	"github.com/jsherman999/tailorboard/internal/wsfeed"
)

const changesTopic = "changes"

// session is the watch command's component graph.
type session struct {
	feed    *wsfeed.Client
	rt      *realtime.Coordinator
	probe   *worker.Probe
	watcher *watcher.Watcher
}

// lineWriter serializes JSON lines written from several goroutines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, _ = fmt.Fprintf(lw.w, "%s\n", b)
}

func newSession(cfg *config.Config, out *lineWriter, logger *zerolog.Logger) (*session, error) {
	relay, err := wsfeed.RelayURL(cfg.Client.Remote)
	if err != nil {
		return nil, err
	}
	s := &session{}
	s.feed = wsfeed.New(wsfeed.Options{
		URL:            relay,
		Token:          readToken(cfg.Auth.TokenFile),
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		OnInvalidate: func(keys []string) {
			out.write(map[string]any{"type": "invalidate", "origin": "relay", "keys": keys})
		},
		Logger: logger,
	})
	inv := realtime.InvalidatorFunc(func(keys ...string) {
		out.write(map[string]any{"type": "invalidate", "origin": "local", "keys": keys})
	})
	s.rt = realtime.New(s.feed, inv, realtime.Options{Debounce: cfg.Realtime.Debounce, Logger: logger})

	tcs, err := topics.FromConfig(cfg.Topics)
	if err != nil {
		return nil, err
	}
	for _, tc := range tcs {
		if _, err := s.rt.AddTopic(tc); err != nil {
			return nil, err
		}
	}
	if _, err := s.rt.AddTopic(realtime.TopicConfig{
		Name:     changesTopic,
		Filters:  []realtime.Filter{{Table: "*"}},
		OnChange: func(c realtime.Change) { out.write(map[string]any{"type": "change", "change": c}) },
	}); err != nil {
		return nil, err
	}

	s.probe = worker.NewProbe(newRemote(cfg.Client.Remote, "").healthy, cfg.Realtime.ProbeInterval, logger)
	if cfg.Auth.TokenFile != "" {
		s.watcher = watcher.New(watcher.Options{
			Path:   cfg.Auth.TokenFile,
			Auth:   s.feed,
			Epoch:  s.rt.Epoch,
			Logger: logger,
		})
	}
	return s, nil
}

// run drives the session until ctx is done, printing a status line after
// every epoch change.
func (s *session) run(ctx context.Context, out *lineWriter) error {
	feedCtx, stopFeed := context.WithCancel(context.WithoutCancel(ctx))
	feedDone := make(chan error, 1)
	go func() { feedDone <- s.feed.Run(feedCtx) }()
	defer func() {
		stopFeed()
		<-feedDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.rt.Run(gctx, s.probe) })
	g.Go(func() error {
		s.probe.Run(gctx)
		return nil
	})
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}
	g.Go(func() error {
		ch, cancel := s.rt.Epoch.Watch()
		defer cancel()
		out.write(map[string]any{"type": "status", "status": s.rt.Snapshot()})
		for {
			select {
			case <-gctx.Done():
				return nil
			case _, ok := <-ch:
				if !ok {
					return nil
				}
				out.write(map[string]any{"type": "status", "status": s.rt.Snapshot()})
			}
		}
	})
	return g.Wait()
}

func watchCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the daemon's change relay and print changes, invalidations and status as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadClient(*cfgPath)
			if err != nil {
				return err
			}
			out := &lineWriter{w: cmd.OutOrStdout()}
			s, err := newSession(cfg, out, &logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return s.run(ctx, out)
		},
	}
}
