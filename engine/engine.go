// Package engine invalidates and refetches data scopes and owns the
// synchronization context that drives it.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/notify"
	"github.com/huykn/reactive-sync/telemetry"
	"github.com/huykn/reactive-sync/types"
)

// DataAccess is the scope cache the engine drives.
type DataAccess interface {
	// Invalidate marks scope stale.
	Invalidate(scope types.ScopeKey)

	// Refetch reloads scope and replaces its cache entry.
	Refetch(ctx context.Context, scope types.ScopeKey) error

	// IsActive reports whether a view currently observes scope.
	IsActive(scope types.ScopeKey) bool
}

// registry is implemented by data layers that know their registered
// scopes, such as cache.ScopeCache.
type registry interface {
	Has(scope types.ScopeKey) bool
}

// Cycle describes one completed invalidate-and-refetch call.
type Cycle struct {
	Source      string
	Invalidated []types.ScopeKey
	Refetched   []types.ScopeKey
	Failed      []types.ScopeKey
	Duration    time.Duration
}

// RefreshError carries the per-scope failures of a cycle.
type RefreshError struct {
	Source   string
	Failures map[types.ScopeKey]error
}

func (e *RefreshError) Error() string {
	scopes := e.Scopes()
	parts := make([]string, 0, len(scopes))
	for _, s := range scopes {
		parts = append(parts, fmt.Sprintf("%s: %v", s, e.Failures[s]))
	}
	return fmt.Sprintf("refresh (%s): %d scope(s) failed: %s", e.Source, len(scopes), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *RefreshError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, s := range e.Scopes() {
		out = append(out, e.Failures[s])
	}
	return out
}

// Scopes returns the failed scopes in lexical order.
func (e *RefreshError) Scopes() []types.ScopeKey {
	out := make([]types.ScopeKey, 0, len(e.Failures))
	for s := range e.Failures {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Engine marks scopes stale and refetches the active ones.
type Engine struct {
	data      DataAccess
	known     func() []types.ScopeKey
	collector *telemetry.Collector
	sink      notify.Sink
	logger    cache.Logger
	debug     bool
	timeout   time.Duration
	limit     int
	onCycle   func(Cycle)

	inflight int64
	cycles   int64
	failures int64
}

// NewEngine creates an engine. known lists every scope for AllScopes requests.
func NewEngine(data DataAccess, known func() []types.ScopeKey, collector *telemetry.Collector, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	if opts.RefetchTimeout <= 0 {
		opts.RefetchTimeout = DefaultRefetchTimeout
	}
	if collector == nil {
		collector = telemetry.NewCollector(opts.TelemetryCapacity, opts.Observers...)
	}
	return &Engine{
		data:      data,
		known:     known,
		collector: collector,
		sink:      opts.Sink,
		logger:    opts.Logger,
		debug:     opts.DebugMode,
		timeout:   opts.RefetchTimeout,
		limit:     opts.MaxConcurrentRefetches,
		onCycle:   opts.OnCycle,
	}
}

// InvalidateAndRefetch marks every listed scope stale, or every known scope
// when the list contains types.AllScopes, then refetches the active ones
// concurrently and waits for all of them. A failed refetch does not cancel
// its siblings; the failures are returned as a *RefreshError.
func (e *Engine) InvalidateAndRefetch(ctx context.Context, scopes []types.ScopeKey, source string) error {
	start := time.Now()
	targets := e.expand(scopes)

	var active []types.ScopeKey
	for _, s := range targets {
		e.data.Invalidate(s)
		if e.data.IsActive(s) {
			active = append(active, s)
		}
	}

	if e.debug {
		e.logger.Debug("Engine: cycle started", "source", source, "invalidated", len(targets), "active", len(active))
	}

	failures := e.refetchAll(ctx, active)
	atomic.AddInt64(&e.cycles, 1)

	cycle := Cycle{
		Source:      source,
		Invalidated: targets,
		Duration:    time.Since(start),
	}
	for _, s := range active {
		if _, failed := failures[s]; failed {
			cycle.Failed = append(cycle.Failed, s)
		} else {
			cycle.Refetched = append(cycle.Refetched, s)
		}
	}
	if e.onCycle != nil {
		e.onCycle(cycle)
	}

	if len(failures) == 0 {
		return nil
	}

	atomic.AddInt64(&e.failures, 1)
	err := &RefreshError{Source: source, Failures: failures}
	e.logger.Warn("Engine: refresh cycle had failures", "source", source, "failed", len(failures))
	if e.sink != nil {
		e.sink.Notify(notify.Notification{
			Level:   notify.LevelError,
			Title:   "Data refresh failed",
			Message: "Could not refresh " + joinScopes(err.Scopes()),
		})
	}
	return err
}

// refetchAll runs one refetch per scope and collects the failures.
func (e *Engine) refetchAll(ctx context.Context, scopes []types.ScopeKey) map[types.ScopeKey]error {
	failures := make(map[types.ScopeKey]error)
	if len(scopes) == 0 {
		return failures
	}

	atomic.AddInt64(&e.inflight, 1)
	defer atomic.AddInt64(&e.inflight, -1)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for _, s := range scopes {
		s := s
		g.Go(func() error {
			if err := e.refetch(ctx, s); err != nil {
				mu.Lock()
				failures[s] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (e *Engine) refetch(ctx context.Context, s types.ScopeKey) error {
	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.data.Refetch(rctx, s)
	e.collector.Record("refetch:"+string(s), time.Since(start), err == nil)

	if err != nil {
		e.logger.Error("Engine: refetch failed", "scope", s, "error", err)
		return err
	}
	if e.debug {
		e.logger.Debug("Engine: refetched", "scope", s, "duration", time.Since(start))
	}
	return nil
}

func (e *Engine) expand(scopes []types.ScopeKey) []types.ScopeKey {
	for _, s := range scopes {
		if s == types.AllScopes {
			if e.known == nil {
				return nil
			}
			return e.known()
		}
	}
	seen := make(map[types.ScopeKey]struct{}, len(scopes))
	out := make([]types.ScopeKey, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// IsRefreshing reports whether any refetch of any cycle is outstanding.
func (e *Engine) IsRefreshing() bool {
	return atomic.LoadInt64(&e.inflight) > 0
}

// Cycles returns the number of completed cycles.
func (e *Engine) Cycles() int64 {
	return atomic.LoadInt64(&e.cycles)
}

// FailedCycles returns the number of cycles that had at least one failure.
func (e *Engine) FailedCycles() int64 {
	return atomic.LoadInt64(&e.failures)
}

// Collector returns the telemetry collector refetches are recorded in.
func (e *Engine) Collector() *telemetry.Collector {
	return e.collector
}

func joinScopes(scopes []types.ScopeKey) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
