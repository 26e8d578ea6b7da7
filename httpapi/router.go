// Package httpapi exposes the synchronization context over HTTP.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/engine"
	"github.com/huykn/reactive-sync/mutation"
	"github.com/huykn/reactive-sync/notify"
	"github.com/huykn/reactive-sync/scope"
	"github.com/huykn/reactive-sync/storage"
	"github.com/huykn/reactive-sync/types"
)

// Options wires the router. Only Context is required.
type Options struct {
	Context *engine.Context

	// Writer enables POST /writes.
	Writer *mutation.Writer

	// Inbox backs GET /notifications.
	Inbox *notify.Inbox

	// Cache backs the /scopes routes and adds cache statistics to
	// GET /status.
	Cache *cache.ScopeCache

	// WatchInterval is how often a watch stream checks for a new value.
	// Defaults to one second.
	WatchInterval time.Duration

	// Gatherer backs GET /metrics. If nil, prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Logger cache.Logger
}

type handler struct {
	opts Options
}

// NewRouter builds the HTTP surface.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	h := &handler{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", h.status)
	r.Post("/refresh", h.refreshAll)
	r.Post("/refresh/{scope}", h.refreshScope)
	r.Route("/scopes", func(r chi.Router) {
		r.Get("/", h.listScopes)
		r.Get("/{scope}", h.getScope)
		r.Get("/{scope}/watch", h.watchScope)
	})
	r.Post("/mutations", h.triggerMutation)
	r.Post("/writes", h.write)
	r.Get("/notifications", h.notifications)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return r
}

type statusResponse struct {
	IsRefreshing     bool                      `json:"isRefreshing"`
	State            string                    `json:"state"`
	MutationCount    int64                     `json:"mutationCount"`
	LastMutationType string                    `json:"lastMutationType"`
	AverageMs        float64                   `json:"averageMs"`
	Rating           string                    `json:"rating"`
	Cycles           int64                     `json:"cycles"`
	FailedCycles     int64                     `json:"failedCycles"`
	Resolver         scope.Stats               `json:"resolver"`
	Cache            *cache.Stats              `json:"cache,omitempty"`
	Metrics          []types.PerformanceMetric `json:"metrics"`
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	sc := h.opts.Context
	col := sc.Collector()
	resp := statusResponse{
		IsRefreshing:     sc.IsRefreshing(),
		State:            sc.State().String(),
		MutationCount:    sc.MutationCount(),
		LastMutationType: sc.LastMutationType(),
		AverageMs:        types.PerformanceMetric{Duration: col.AverageDuration()}.DurationMs(),
		Rating:           string(col.Rating()),
		Cycles:           sc.Engine().Cycles(),
		FailedCycles:     sc.Engine().FailedCycles(),
		Resolver:         sc.Resolver().Stats(),
		Metrics:          sc.PerformanceMetrics(),
	}
	if h.opts.Cache != nil {
		stats := h.opts.Cache.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) refreshAll(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	err := h.opts.Context.RefreshAll(r.Context(), source)
	h.writeRefresh(w, err)
}

func (h *handler) refreshScope(w http.ResponseWriter, r *http.Request) {
	name := types.ScopeKey(chi.URLParam(r, "scope"))
	err := h.opts.Context.RefreshScope(r.Context(), name)
	h.writeRefresh(w, err)
}

type refreshResponse struct {
	OK       bool              `json:"ok"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (h *handler) writeRefresh(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, refreshResponse{OK: true})
		return
	}
	if errors.Is(err, cache.ErrUnknownScope) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var rerr *engine.RefreshError
	if !errors.As(err, &rerr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := refreshResponse{Failures: make(map[string]string, len(rerr.Failures))}
	for s, e := range rerr.Failures {
		resp.Failures[string(s)] = e.Error()
	}
	writeJSON(w, http.StatusBadGateway, resp)
}

type scopeInfo struct {
	Name   types.ScopeKey `json:"name"`
	Active bool           `json:"active"`
	Stale  bool           `json:"stale"`
}

type scopeResponse struct {
	Scope types.ScopeKey `json:"scope"`
	Value any            `json:"value"`
}

func (h *handler) listScopes(w http.ResponseWriter, _ *http.Request) {
	sc := h.opts.Cache
	if sc == nil {
		writeError(w, http.StatusNotImplemented, "scope reads are not configured")
		return
	}
	names := sc.Scopes()
	out := make([]scopeInfo, len(names))
	for i, name := range names {
		out[i] = scopeInfo{Name: name, Active: sc.IsActive(name), Stale: sc.IsStale(name)}
	}
	writeJSON(w, http.StatusOK, out)
}

// getScope reads a scope through the cache, loading it when stale or cold.
func (h *handler) getScope(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		writeError(w, http.StatusNotImplemented, "scope reads are not configured")
		return
	}
	name := types.ScopeKey(chi.URLParam(r, "scope"))
	value, err := h.opts.Cache.Get(r.Context(), name)
	if err != nil {
		writeError(w, readStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scopeResponse{Scope: name, Value: value})
}

// watchScope keeps the scope observed for as long as the client stays
// connected and streams its value as server-sent events whenever it changes.
func (h *handler) watchScope(w http.ResponseWriter, r *http.Request) {
	sc := h.opts.Cache
	if sc == nil {
		writeError(w, http.StatusNotImplemented, "scope reads are not configured")
		return
	}
	name := types.ScopeKey(chi.URLParam(r, "scope"))
	if !sc.Has(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", cache.ErrUnknownScope, name))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	release := sc.Observe(name)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, data []byte) bool {
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	var last []byte
	sendValue := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			h.opts.Logger.Warn("httpapi: cannot encode scope value", "scope", name, "error", err)
			return true
		}
		if bytes.Equal(data, last) {
			return true
		}
		last = data
		return send(string(name), data)
	}

	ctx := r.Context()
	value, err := sc.Get(ctx, name)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		if !send("error", data) {
			return
		}
	case !sendValue(value):
		return
	}

	ticker := time.NewTicker(h.opts.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if value, ok := sc.Peek(name); ok && !sendValue(value) {
				return
			}
		}
	}
}

func readStatus(err error) int {
	switch {
	case errors.Is(err, cache.ErrUnknownScope):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrCacheClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type mutationRequest struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (h *handler) triggerMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	event := h.opts.Context.TriggerMutation(req.Type, req.Payload)
	writeJSON(w, http.StatusAccepted, event)
}

type writeRequest struct {
	Endpoint        string           `json:"endpoint"`
	Verb            string           `json:"verb"`
	Payload         map[string]any   `json:"payload"`
	Type            string           `json:"type"`
	DependentScopes []types.ScopeKey `json:"dependentScopes"`
}

type writeResponse struct {
	Record       json.RawMessage     `json:"record"`
	Event        types.MutationEvent `json:"event"`
	RefreshError string              `json:"refreshError,omitempty"`
}

func (h *handler) write(w http.ResponseWriter, r *http.Request) {
	if h.opts.Writer == nil {
		writeError(w, http.StatusNotImplemented, "writes are not configured")
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.opts.Writer.Perform(r.Context(), mutation.Request{
		Endpoint:        req.Endpoint,
		Verb:            req.Verb,
		Payload:         req.Payload,
		Type:            req.Type,
		DependentScopes: req.DependentScopes,
	})
	if err != nil {
		h.opts.Logger.Warn("httpapi: write failed", "endpoint", req.Endpoint, "error", err)
		writeError(w, writeStatus(err), err.Error())
		return
	}

	resp := writeResponse{Record: res.Record, Event: res.Event}
	if res.RefreshErr != nil {
		resp.RefreshError = res.RefreshErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrUnsupportedVerb),
		errors.Is(err, storage.ErrInvalidIdentifier),
		errors.Is(err, storage.ErrMissingID):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func (h *handler) notifications(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Inbox == nil {
		writeJSON(w, http.StatusOK, []notify.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Inbox.Active())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
