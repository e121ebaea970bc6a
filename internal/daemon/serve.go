package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jsherman999/tailorboard/internal/api"
	"github.com/jsherman999/tailorboard/internal/changefeed"
	"github.com/jsherman999/tailorboard/internal/config"
	"github.com/jsherman999/tailorboard/internal/db"
	"github.com/jsherman999/tailorboard/internal/querycache"
	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/store"
	"github.com/jsherman999/tailorboard/internal/topics"
	"github.com/jsherman999/tailorboard/internal/watchhub"
	"github.com/jsherman999/tailorboard/internal/worker"
)

// RelayTopic forwards every change to SSE and websocket clients.
const RelayTopic = "relay"

// Wiring is the daemon's component graph, built without starting anything.
type Wiring struct {
	Feed     *changefeed.Feed
	Realtime *realtime.Coordinator
	Cache    *querycache.Cache
	Hub      *watchhub.Hub[watchhub.Message]
	Probe    *worker.Probe
	API      *api.API
}

// Wire builds the component graph for cfg on top of st, the feed dialer and
// the network check.
func Wire(cfg *config.Config, st api.Store, dial changefeed.Dialer, check worker.CheckFunc, logger *zerolog.Logger) (*Wiring, error) {
	w := &Wiring{
		Cache: querycache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval, logger),
		Hub:   watchhub.New[watchhub.Message](),
	}
	w.Feed = changefeed.New(dial, changefeed.Options{
		Channel:        db.NotifyChannel,
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
		Logger:         logger,
	})
	w.Realtime = realtime.New(w.Feed,
		realtime.Invalidators{w.Cache, watchhub.Invalidator{Hub: w.Hub}},
		realtime.Options{Debounce: cfg.Realtime.Debounce, Logger: logger})

	tcs, err := topics.FromConfig(cfg.Topics)
	if err != nil {
		return nil, err
	}
	for _, tc := range tcs {
		if _, err := w.Realtime.AddTopic(tc); err != nil {
			return nil, err
		}
	}
	hub := w.Hub
	if _, err := w.Realtime.AddTopic(realtime.TopicConfig{
		Name:     RelayTopic,
		Filters:  []realtime.Filter{{Table: "*"}},
		OnChange: func(c realtime.Change) { hub.Publish(watchhub.ChangeMessage(c)) },
	}); err != nil {
		return nil, err
	}

	w.Probe = worker.NewProbe(check, cfg.Realtime.ProbeInterval, logger)
	w.API = api.New(api.Options{
		Store:     st,
		Realtime:  w.Realtime,
		Cache:     w.Cache,
		Hub:       w.Hub,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
	})
	return w, nil
}

// Serve runs the daemon until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, dbConn *db.DB, logger *zerolog.Logger) error {
	w, err := Wire(cfg, store.New(dbConn), changefeed.PgxDialer(cfg.DB.DSN, db.NotifyChannel), dbConn.Ping, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.API.Listen, Handler: w.API.Router(), ReadHeaderTimeout: 10 * time.Second}
	return w.Run(ctx, srv, logger)
}

// Run starts every component and blocks until ctx is done and they have all
// stopped. The feed outlives the coordinator so shutdown teardown is not
// mistaken for a transport failure.
func (w *Wiring) Run(ctx context.Context, srv *http.Server, logger *zerolog.Logger) error {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	feedCtx, feedCancel := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		_ = w.Feed.Run(feedCtx)
	}()
	defer func() {
		feedCancel()
		<-feedDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Realtime.Run(gctx, w.Probe) })
	g.Go(func() error {
		w.Probe.Run(gctx)
		return nil
	})
	g.Go(func() error {
		w.publishStatus(gctx)
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info().Str("listen", srv.Addr).Msg("tailorboardd listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		w.API.Close()
		if srv == nil {
			return nil
		}
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// publishStatus sends a status message to relay clients on every epoch change.
func (w *Wiring) publishStatus(ctx context.Context) {
	ch, cancel := w.Realtime.Epoch.Watch()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.Hub.Publish(watchhub.StatusMessage(w.Realtime.Snapshot()))
		}
	}
}
