// Package changefeed is the realtime transport backed by Postgres
// LISTEN/NOTIFY. Row triggers publish JSON payloads on a single channel; one
// dedicated connection waits for them and fans them out to subscriptions.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

// Conn is a connection that is already listening on the feed channel.
// *pgx.Conn satisfies it.
type Conn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type Dialer func(ctx context.Context) (Conn, error)

// PgxDialer connects with dsn and LISTENs on channel.
func PgxDialer(dsn, channel string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return conn, nil
	}
}

type Options struct {
	Channel        string
	ReconnectDelay time.Duration
	Logger         *zerolog.Logger
}

// Feed implements realtime.Transport.
type Feed struct {
	*realtime.Dispatcher

	dial    Dialer
	channel string
	delay   time.Duration
	logger  *zerolog.Logger
}

func New(dial Dialer, opts Options) *Feed {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "changefeed").Logger()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &Feed{
		Dispatcher: realtime.NewDispatcher(&l),
		dial:       dial,
		channel:    opts.Channel,
		delay:      opts.ReconnectDelay,
		logger:     &l,
	}
}

// Run keeps the listening connection up until ctx is done, then closes every
// subscription.
func (f *Feed) Run(ctx context.Context) error {
	defer f.Close()

	for {
		conn, err := f.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.Failed(realtime.StatusError, err)
		} else {
			f.Connected()
			err = f.pump(ctx, conn)
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = conn.Close(closeCtx)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			f.Failed(failureStatus(err), err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.delay):
		}
	}
}

func (f *Feed) pump(ctx context.Context, conn Conn) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if f.channel != "" && n.Channel != f.channel {
			continue
		}
		c, err := Decode(n.Payload)
		if err != nil {
			f.logger.Warn().Err(err).Str("payload", n.Payload).Msg("bad change payload")
			continue
		}
		delivered := f.Dispatch(c)
		f.logger.Trace().Str("table", c.Table).Str("event", string(c.Event)).Int64("id", c.ID).Int("delivered", delivered).Msg("change")
	}
}

// Decode parses a trigger payload.
func Decode(payload string) (realtime.Change, error) {
	var c realtime.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("decode change: %w", err)
	}
	if c.Table == "" {
		return c, fmt.Errorf("decode change: missing table")
	}
	c.Event = realtime.EventType(strings.ToUpper(string(c.Event)))
	return c, nil
}

func failureStatus(err error) realtime.Status {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return realtime.StatusTimedOut
	case errors.As(err, &pgErr):
		return realtime.StatusError
	default:
		return realtime.StatusDisconnected
	}
}
