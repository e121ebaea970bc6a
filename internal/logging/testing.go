package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger captures JSON log output in memory.
type TestLogger struct {
	zerolog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestLogger returns a debug-level logger writing to an in-memory buffer.
func NewTestLogger(t testing.TB) *TestLogger {
	t.Helper()
	tl := &TestLogger{}
	tl.Logger = zerolog.New(lockedWriter{tl}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return tl
}

// Output returns everything logged so far.
func (tl *TestLogger) Output() string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.buf.String()
}

func (tl *TestLogger) Contains(s string) bool {
	return strings.Contains(tl.Output(), s)
}

// AssertContains fails t if s was never logged.
func (tl *TestLogger) AssertContains(t testing.TB, s string) {
	t.Helper()
	if !tl.Contains(s) {
		t.Errorf("expected log output to contain %q, got:\n%s", s, tl.Output())
	}
}

type lockedWriter struct{ tl *TestLogger }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.tl.mu.Lock()
	defer w.tl.mu.Unlock()
	return w.tl.buf.Write(p)
}
