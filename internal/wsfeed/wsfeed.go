// Package wsfeed is the realtime transport used by the CLI. It reads the
// daemon's websocket relay and fans change messages out to subscriptions.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/watchhub"
)

const (
	// Time allowed to write a control message.
	writeWait = 10 * time.Second
	// The daemon pings more often than this.
	pongWait = 60 * time.Second
)

type Options struct {
	// URL is the relay endpoint, e.g. ws://127.0.0.1:8080/ws.
	URL            string
	Token          string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// OnInvalidate receives the keys of every invalidate message.
	OnInvalidate func(keys []string)
	Logger       *zerolog.Logger
}

// Client implements realtime.Transport and realtime.AuthSetter.
type Client struct {
	*realtime.Dispatcher

	url          string
	delay        time.Duration
	dialer       *websocket.Dialer
	onInvalidate func([]string)
	logger       *zerolog.Logger

	mu     sync.Mutex
	token  string
	conn   *websocket.Conn
	reauth bool
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "wsfeed").Logger()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		Dispatcher:   realtime.NewDispatcher(&l),
		url:          opts.URL,
		delay:        opts.ReconnectDelay,
		dialer:       opts.Dialer,
		onInvalidate: opts.OnInvalidate,
		logger:       &l,
		token:        opts.Token,
	}
}

// RelayURL turns an http(s) base address into the ws(s) relay endpoint.
func RelayURL(remote string) (string, error) {
	u, err := url.Parse(strings.TrimRight(remote, "/"))
	if err != nil {
		return "", fmt.Errorf("parse remote: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("parse remote: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/ws"
	return u.String(), nil
}

// SetAuth replaces the bearer token. A live connection is dropped and redialed
// with the new token without reporting a failure.
func (c *Client) SetAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == c.token {
		return
	}
	c.token = token
	if c.conn != nil {
		c.reauth = true
		_ = c.conn.Close()
	}
}

// Run keeps a relay connection up until ctx is done, then closes every
// subscription.
func (c *Client) Run(ctx context.Context) error {
	defer c.Close()

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Failed(realtime.StatusError, err)
		} else {
			c.Connected()
			err = c.read(ctx, conn)

			c.mu.Lock()
			reauth := c.reauth
			c.reauth = false
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()

			if ctx.Err() != nil {
				return nil
			}
			if reauth {
				c.logger.Info().Msg("token changed, redialing")
				continue
			}
			c.Failed(realtime.StatusDisconnected, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", c.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if token != c.token {
		// SetAuth ran during the dial.
		c.mu.Unlock()
		_ = conn.Close()
		return c.dial(ctx)
	}
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg watchhub.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("bad relay message")
			continue
		}
		switch msg.Type {
		case watchhub.TypeChange:
			if msg.Change != nil {
				c.Dispatch(*msg.Change)
			}
		case watchhub.TypeInvalidate:
			if c.onInvalidate != nil {
				c.onInvalidate(msg.Keys)
			}
		case watchhub.TypeStatus:
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("unknown relay message")
		}
	}
}
