package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/tailorboard/internal/api"
	"github.com/jsherman999/tailorboard/internal/querycache"
	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/store"
	"github.com/jsherman999/tailorboard/internal/watchhub"
)

type fakeStore struct {
	mu    sync.Mutex
	calls map[string]int
	recs  map[string][]store.Record
	open  int64
}

func newFakeStore() *fakeStore {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &fakeStore{
		calls: map[string]int{},
		recs: map[string][]store.Record{
			"orders": {{ID: 1, Data: json.RawMessage(`{"customer":"Asha"}`), CreatedAt: at, UpdatedAt: at}},
		},
		open: 3,
	}
}

func (f *fakeStore) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeStore) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) List(_ context.Context, resource string, _ int) ([]store.Record, error) {
	f.hit("list")
	if !store.ValidResource(resource) {
		return nil, store.ErrUnknownResource
	}
	return f.recs[resource], nil
}

func (f *fakeStore) Get(_ context.Context, resource string, id int64) (*store.Record, error) {
	f.hit("get")
	for _, r := range f.recs[resource] {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%s %d: %w", resource, id, store.ErrNotFound)
}

func (f *fakeStore) Create(_ context.Context, resource string, data json.RawMessage) (*store.Record, error) {
	f.hit("create")
	if !strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return nil, store.ErrInvalidData
	}
	return &store.Record{ID: 2, Data: data}, nil
}

func (f *fakeStore) Update(_ context.Context, resource string, id int64, data json.RawMessage) (*store.Record, error) {
	f.hit("update")
	return &store.Record{ID: id, Data: data}, nil
}

func (f *fakeStore) Delete(_ context.Context, resource string, id int64) error {
	f.hit("delete")
	if id != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) CountOpenInquiries(context.Context) (int64, error) {
	f.hit("inquiries")
	return f.open, nil
}

func (f *fakeStore) DashboardStats(context.Context) (*store.Stats, error) {
	f.hit("stats")
	return &store.Stats{Orders: 1, OpenInquiries: f.open}, nil
}

type fakeRealtime struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRealtime) Snapshot() realtime.Snapshot {
	return realtime.Snapshot{Online: true, TransportStatus: realtime.StatusConnected, Epoch: 4, Subscriptions: 8}
}

func (f *fakeRealtime) RecoveryRequested(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

type fixture struct {
	store *fakeStore
	rt    *fakeRealtime
	cache *querycache.Cache
	hub   *watchhub.Hub[watchhub.Message]
	api   *api.API
	h     http.Handler
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		rt:    &fakeRealtime{},
		cache: querycache.New(time.Minute, time.Minute, nil),
		hub:   watchhub.New[watchhub.Message](),
	}
	f.api = api.New(api.Options{Store: f.store, Realtime: f.rt, Cache: f.cache, Hub: f.hub, JWTSecret: secret})
	t.Cleanup(f.api.Close)
	f.h = f.api.Router()
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusAndRecover(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Realtime realtime.Snapshot `json:"realtime"`
		Clients  int               `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, uint64(4), st.Realtime.Epoch)
	assert.Equal(t, realtime.StatusConnected, st.Realtime.TransportStatus)

	rec = f.do(http.MethodPost, "/recover?reason=stuck", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(http.MethodPost, "/recover", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"stuck", "manual (api)"}, f.rt.reasons)
}

func TestListIsCachedUntilInvalidated(t *testing.T) {
	f := newFixture(t, "")

	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodGet, "/resources/orders?limit=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Asha")
	}
	assert.Equal(t, 1, f.store.count("list"))

	f.cache.Invalidate("orders")
	f.do(http.MethodGet, "/resources/orders?limit=10", "")
	assert.Equal(t, 2, f.store.count("list"))

	f.cache.Invalidate("customers")
	f.do(http.MethodGet, "/resources/orders?limit=10", "")
	assert.Equal(t, 2, f.store.count("list"), "unrelated invalidation keeps the entry")
}

func TestResourceErrors(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/resources/users", "", http.StatusNotFound},
		{http.MethodGet, "/resources/orders?limit=x", "", http.StatusBadRequest},
		{http.MethodGet, "/resources/orders/abc", "", http.StatusBadRequest},
		{http.MethodGet, "/resources/orders/99", "", http.StatusNotFound},
		{http.MethodGet, "/resources/orders/1", "", http.StatusOK},
		{http.MethodPost, "/resources/orders", "{", http.StatusBadRequest},
		{http.MethodPost, "/resources/orders", `["not","object"]`, http.StatusBadRequest},
		{http.MethodPost, "/resources/orders", `{"customer":"Ravi"}`, http.StatusCreated},
		{http.MethodPut, "/resources/orders/1", `{"customer":"Ravi"}`, http.StatusOK},
		{http.MethodDelete, "/resources/orders/1", "", http.StatusNoContent},
		{http.MethodDelete, "/resources/orders/5", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestBadgeAndDashboardUseTopicKeys(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/badges/inquiries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"open":3}`, rec.Body.String())
	f.do(http.MethodGet, "/badges/inquiries", "")
	assert.Equal(t, 1, f.store.count("inquiries"))

	f.cache.Invalidate("inquiries", "inquiries:open")
	f.do(http.MethodGet, "/badges/inquiries", "")
	assert.Equal(t, 2, f.store.count("inquiries"))

	rec = f.do(http.MethodGet, "/dashboard/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.cache.Invalidate("dashboard:stats")
	f.do(http.MethodGet, "/dashboard/stats", "")
	assert.Equal(t, 2, f.store.count("stats"))
}

func TestExport(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodGet, "/export/orders?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id,created_at,updated_at,customer\n"))

	rec = f.do(http.MethodGet, "/export/orders?format=graphml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func token(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "front-desk",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "s3cret")
	good := token(t, "s3cret", time.Now().Add(time.Hour))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/status", "", "Authorization", "Bearer "+token(t, "other", time.Now().Add(time.Hour))).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/status", "", "Authorization", "Bearer "+token(t, "s3cret", time.Now().Add(-time.Hour))).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/status", "", "Authorization", "Bearer "+good).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/status?access_token="+good, "").Code)
}

func TestSSERelay(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	next := func(prefix string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream ended")
				if strings.HasPrefix(l, prefix) {
					return strings.TrimPrefix(l, prefix)
				}
			case <-deadline:
				t.Fatalf("no line with prefix %q", prefix)
			}
		}
	}

	assert.Equal(t, "status", next("event: "))
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.hub.Publish(watchhub.Message{Type: watchhub.TypeInvalidate, Keys: []string{"orders"}})
	assert.Equal(t, "invalidate", next("event: "))
	var msg watchhub.Message
	require.NoError(t, json.Unmarshal([]byte(next("data: ")), &msg))
	assert.Equal(t, []string{"orders"}, msg.Keys)
}

func TestWebsocketRelay(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first watchhub.Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, watchhub.TypeStatus, first.Type)
	require.NotNil(t, first.Status)
	assert.Equal(t, uint64(4), first.Status.Epoch)

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.hub.Publish(watchhub.ChangeMessage(realtime.Change{Table: "measurements", Event: realtime.EventUpdate, ID: 9}))

	var msg watchhub.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, watchhub.TypeChange, msg.Type)
	require.NotNil(t, msg.Change)
	assert.Equal(t, "measurements", msg.Change.Table)

	f.api.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
