package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/watcher"
)

type authLog struct {
	mu     sync.Mutex
	tokens []string
}

func (a *authLog) SetAuth(token string) {
	a.mu.Lock()
	a.tokens = append(a.tokens, token)
	a.mu.Unlock()
}

func (a *authLog) get() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tokens...)
}

func mint(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: subject}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func setup(t *testing.T) (*watcher.Watcher, string, *authLog, *realtime.Epoch) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	auth := &authLog{}
	epoch := realtime.NewEpoch(0, nil, nil)
	w := watcher.New(watcher.Options{Path: path, Auth: auth, Epoch: epoch})
	return w, path, auth, epoch
}

func TestParseToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	s, err := watcher.ParseToken(mint(t, "tailor-7", exp) + "\n")
	require.NoError(t, err)
	assert.Equal(t, "tailor-7", s.Subject)
	assert.True(t, exp.Equal(s.ExpiresAt))

	_, err = watcher.ParseToken("not-a-jwt")
	assert.Error(t, err)
}

func TestSessionTransitions(t *testing.T) {
	w, path, auth, epoch := setup(t)

	w.Reload()
	assert.Nil(t, w.Current())
	assert.Equal(t, uint64(0), epoch.Value(), "no token, no transition")

	first := mint(t, "asha", time.Now().Add(time.Hour))
	require.NoError(t, os.WriteFile(path, []byte(first), 0o600))
	w.Reload()
	require.NotNil(t, w.Current())
	assert.Equal(t, "asha", w.Current().Subject)
	assert.Equal(t, uint64(1), epoch.Value())

	w.Reload()
	assert.Equal(t, uint64(1), epoch.Value(), "unchanged token is not a refresh")

	second := mint(t, "asha", time.Now().Add(2*time.Hour))
	require.NoError(t, os.WriteFile(path, []byte(second), 0o600))
	w.Reload()
	assert.Equal(t, uint64(2), epoch.Value())

	require.NoError(t, os.Remove(path))
	w.Reload()
	assert.Nil(t, w.Current())
	assert.Equal(t, uint64(3), epoch.Value())

	assert.Equal(t, []string{first, second, ""}, auth.get())
}

func TestExpiredTokenIsSignedOut(t *testing.T) {
	w, path, auth, epoch := setup(t)

	require.NoError(t, os.WriteFile(path, []byte(mint(t, "ravi", time.Now().Add(-time.Minute))), 0o600))
	w.Reload()
	assert.Nil(t, w.Current())
	assert.Equal(t, uint64(0), epoch.Value())

	require.NoError(t, os.WriteFile(path, []byte(mint(t, "ravi", time.Now().Add(1500*time.Millisecond))), 0o600))
	w.Reload()
	require.NotNil(t, w.Current())

	// Expiry has one-second precision in the token.
	assert.Eventually(t, func() bool { return w.Current() == nil }, 4*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), epoch.Value())
	tokens := auth.get()
	require.Len(t, tokens, 2)
	assert.Equal(t, "", tokens[1])
}

func TestRunFollowsFile(t *testing.T) {
	w, path, _, epoch := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(mint(t, "meena", time.Time{})), 0o600))

	assert.Eventually(t, func() bool {
		s := w.Current()
		return s != nil && s.Subject == "meena"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), epoch.Value())
}
