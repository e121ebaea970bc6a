// Package watcher follows the signed-in session through a token file.
// Sign-in, refresh and sign-out each hand the new token to the transport and
// bump the epoch so every topic resubscribes under the new identity.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

// Incrementer is the part of the epoch store the watcher drives.
type Incrementer interface {
	Increment(reason string) uint64
}

type Session struct {
	Subject   string
	ExpiresAt time.Time
	Token     string
}

// ParseToken reads subject and expiry from a JWT without verifying it. The
// daemon verifies; the client only needs to know when to refresh.
func ParseToken(raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	s := &Session{Subject: claims.Subject, Token: raw}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

type Options struct {
	// Path is the token file.
	Path   string
	Auth   realtime.AuthSetter
	Epoch  Incrementer
	Now    func() time.Time
	Logger *zerolog.Logger
}

type Watcher struct {
	path   string
	auth   realtime.AuthSetter
	epoch  Incrementer
	now    func() time.Time
	logger *zerolog.Logger

	mu      sync.Mutex
	current *Session
	expiry  *time.Timer
}

func New(opts Options) *Watcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "session").Logger()
	return &Watcher{
		path:   filepath.Clean(opts.Path),
		auth:   opts.Auth,
		epoch:  opts.Epoch,
		now:    opts.Now,
		logger: &l,
	}
}

// Current returns the signed-in session, or nil.
func (w *Watcher) Current() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	s := *w.current
	return &s
}

// Reload reads the token file and applies whatever transition it implies.
func (w *Watcher) Reload() {
	next := w.read()

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case next == nil && w.current == nil:
		return
	case next == nil:
		w.transitionLocked(nil, "auth: sign-out")
	case w.current == nil:
		w.transitionLocked(next, "auth: sign-in")
	case next.Token != w.current.Token:
		w.transitionLocked(next, "auth: refresh")
	}
}

func (w *Watcher) read() *Session {
	b, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn().Err(err).Str("path", w.path).Msg("read token file")
		}
		return nil
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil
	}
	s, err := ParseToken(string(b))
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("ignoring unreadable token")
		return nil
	}
	if !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(w.now()) {
		w.logger.Info().Str("subject", s.Subject).Msg("token already expired")
		return nil
	}
	return s
}

func (w *Watcher) transitionLocked(next *Session, reason string) {
	if w.expiry != nil {
		w.expiry.Stop()
		w.expiry = nil
	}
	w.current = next

	token := ""
	subject := ""
	if next != nil {
		token, subject = next.Token, next.Subject
		if !next.ExpiresAt.IsZero() {
			w.expiry = time.AfterFunc(next.ExpiresAt.Sub(w.now()), func() { w.expire(token) })
		}
	}
	w.logger.Info().Str("subject", subject).Msg(reason)
	if w.auth != nil {
		w.auth.SetAuth(token)
	}
	if w.epoch != nil {
		w.epoch.Increment(reason)
	}
}

func (w *Watcher) expire(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil || w.current.Token != token {
		return
	}
	w.transitionLocked(nil, "auth: sign-out (expired)")
}

// Run watches the token file's directory until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch token file: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	defer w.stop()

	w.Reload()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == w.path {
				w.Reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("token watch error")
		}
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expiry != nil {
		w.expiry.Stop()
		w.expiry = nil
	}
}
