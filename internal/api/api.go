package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jsherman999/tailorboard/internal/exporter"
	"github.com/jsherman999/tailorboard/internal/querycache"
	"github.com/jsherman999/tailorboard/internal/realtime"
	"github.com/jsherman999/tailorboard/internal/store"
	"github.com/jsherman999/tailorboard/internal/topics"
	"github.com/jsherman999/tailorboard/internal/watchhub"
	"github.com/jsherman999/tailorboard/internal/webui"
)

// Store is the data access the API serves.
type Store interface {
	List(ctx context.Context, resource string, limit int) ([]store.Record, error)
	Get(ctx context.Context, resource string, id int64) (*store.Record, error)
	Create(ctx context.Context, resource string, data json.RawMessage) (*store.Record, error)
	Update(ctx context.Context, resource string, id int64, data json.RawMessage) (*store.Record, error)
	Delete(ctx context.Context, resource string, id int64) error
	CountOpenInquiries(ctx context.Context) (int64, error)
	DashboardStats(ctx context.Context) (*store.Stats, error)
}

// Realtime is the coordinator surface exposed over HTTP.
type Realtime interface {
	Snapshot() realtime.Snapshot
	RecoveryRequested(reason string)
}

type Options struct {
	Store    Store
	Realtime Realtime
	Cache    *querycache.Cache
	Hub      *watchhub.Hub[watchhub.Message]
	// JWTSecret enables HS256 bearer auth when set.
	JWTSecret string
	Logger    *zerolog.Logger
}

type API struct {
	store  Store
	rt     Realtime
	cache  *querycache.Cache
	hub    *watchhub.Hub[watchhub.Message]
	secret []byte
	logger *zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	a := &API{
		store:   opts.Store,
		rt:      opts.Realtime,
		cache:   opts.Cache,
		hub:     opts.Hub,
		logger:  logger,
		closing: make(chan struct{}),
	}
	if opts.JWTSecret != "" {
		a.secret = []byte(opts.JWTSecret)
	}
	return a
}

// Close ends every open SSE and websocket stream.
func (a *API) Close() {
	a.closeOnce.Do(func() { close(a.closing) })
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(a.secret, a.logger))

		r.Get("/status", a.handleStatus)
		// Manual recovery trigger for debugging.
		r.Post("/recover", a.handleRecover)

		r.Route("/resources/{name}", func(r chi.Router) {
			r.Get("/", a.handleList)
			r.Post("/", a.handleCreate)
			r.Get("/{id}", a.handleGet)
			r.Put("/{id}", a.handleUpdate)
			r.Delete("/{id}", a.handleDelete)
		})

		r.Get("/dashboard/stats", a.handleDashboard)
		r.Get("/badges/inquiries", a.handleInquiryBadge)

		r.Get("/events", a.handleSSE)
		r.Get("/ws", a.handleWS)

		// GET /export/{name}?format=json|csv
		r.Get("/export/{name}", a.handleExport)
	})

	// Web UI
	ui, uiErr := webui.Handler()
	if uiErr == nil {
		r.Handle("/*", ui)
	}

	return r
}

type statusResponse struct {
	Realtime realtime.Snapshot `json:"realtime"`
	Cache    *querycache.Stats `json:"cache,omitempty"`
	Clients  int               `json:"clients"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Realtime: a.rt.Snapshot()}
	if a.cache != nil {
		st := a.cache.Stats()
		resp.Cache = &st
	}
	if a.hub != nil {
		resp.Clients = a.hub.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecover(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual (api)"
	}
	a.rt.RecoveryRequested(reason)
	writeJSON(w, http.StatusAccepted, a.rt.Snapshot())
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	if !store.ValidResource(name) {
		a.writeError(w, r, store.ErrUnknownResource)
		return
	}
	v, err := a.cached(querycache.Key(name, "limit="+strconv.Itoa(limit)), func() (any, error) {
		return a.store.List(r.Context(), name, limit)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if !store.ValidResource(name) {
		a.writeError(w, r, store.ErrUnknownResource)
		return
	}
	v, err := a.cached(querycache.Key(name, "id="+strconv.FormatInt(id, 10)), func() (any, error) {
		return a.store.Get(r.Context(), name, id)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	data, ok := readData(w, r)
	if !ok {
		return
	}
	rec, err := a.store.Create(r.Context(), chi.URLParam(r, "name"), data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	data, ok := readData(w, r)
	if !ok {
		return
	}
	rec, err := a.store.Update(r.Context(), chi.URLParam(r, "name"), id, data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := a.store.Delete(r.Context(), chi.URLParam(r, "name"), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	v, err := a.cached(topics.KeyDashboardStats, func() (any, error) {
		return a.store.DashboardStats(r.Context())
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleInquiryBadge(w http.ResponseWriter, r *http.Request) {
	v, err := a.cached(topics.KeyOpenInquiries, func() (any, error) {
		return a.store.CountOpenInquiries(r.Context())
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"open": v})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	limit := 10000
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json", "csv":
	default:
		http.Error(w, "unknown format", http.StatusBadRequest)
		return
	}
	b, ct, err := exporter.Export(r.Context(), a.store, chi.URLParam(r, "name"), format, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (a *API) cached(key string, fetch func() (any, error)) (any, error) {
	if a.cache == nil {
		return fetch()
	}
	v, _, err := a.cache.Load(key, fetch)
	return v, err
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func readData(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var data json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&data); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrUnknownResource), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidData):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
