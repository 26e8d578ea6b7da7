package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/scope"
	rsync "github.com/huykn/reactive-sync/sync"
	"github.com/huykn/reactive-sync/telemetry"
	"github.com/huykn/reactive-sync/types"
)

// State is the phase of the refresh pipeline.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Context is the synchronization context: it owns the event bus, resolver,
// debouncer, engine, periodic reconciler and telemetry, and runs their
// lifecycle. Applications construct one and share it.
type Context struct {
	opts       Options
	data       DataAccess
	bus        *rsync.Bus
	resolver   *scope.Resolver
	debouncer  *rsync.Debouncer
	engine     *Engine
	reconciler *rsync.Reconciler
	collector  *telemetry.Collector
	logger     cache.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	pending     types.RefreshRequest
	stamp       bool
	lastRefresh time.Time
	unsubscribe func()
	closed      bool
}

// New creates a synchronization context over data.
func New(data DataAccess, opts Options) (*Context, error) {
	if data == nil {
		return nil, ErrInvalidConfig
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	if opts.PodID == "" {
		opts.PodID = "local"
	}
	if opts.Rules == nil {
		opts.Rules = scope.DefaultRules()
	}

	c := &Context{
		opts:      opts,
		data:      data,
		bus:       rsync.NewBus(opts.Logger),
		resolver:  scope.NewResolver(opts.Rules, opts.Logger, opts.ExtraScopes...),
		debouncer: rsync.NewDebouncer(),
		collector: telemetry.NewCollector(opts.TelemetryCapacity, opts.Observers...),
		logger:    opts.Logger,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.engine = NewEngine(data, c.resolver.Scopes, c.collector, opts)
	c.reconciler = rsync.NewReconciler(rsync.ReconcilerOptions{
		Interval:    opts.ReconcileInterval,
		Guard:       opts.ReconcileGuard,
		LastRefresh: c.LastRefresh,
		Submit: func() {
			c.schedule(types.RefreshRequest{Scopes: []types.ScopeKey{types.AllScopes}, Source: SourcePeriodic}, false)
		},
		Logger: opts.Logger,
	})
	c.unsubscribe = c.bus.Subscribe(rsync.HandlerFunc(c.onMutation))

	return c, nil
}

// TriggerMutation publishes a mutation event from this process.
func (c *Context) TriggerMutation(mutationType string, payload any) types.MutationEvent {
	event := types.NewMutationEvent(mutationType, payload, c.opts.PodID)
	c.bus.Publish(event)
	return event
}

func (c *Context) onMutation(event types.MutationEvent) {
	scopes := c.resolver.Resolve(event.Type)
	if c.opts.DebugMode {
		c.logger.Debug("Context: mutation received", "type", event.Type, "sender", event.Sender, "scopes", scopes)
	}
	c.schedule(types.RefreshRequest{Scopes: scopes, Source: SourceMutation}, true)
}

// schedule merges req into the pending request and re-arms the debouncer.
// Whichever flush finally runs refreshes the union of the burst.
func (c *Context) schedule(req types.RefreshRequest, stamp bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.pending.Scopes) == 0 {
		c.pending = req
	} else {
		c.pending = c.pending.Merge(req)
	}
	c.stamp = c.stamp || stamp
	c.mu.Unlock()

	c.debouncer.Schedule(c.flush, c.opts.QuietPeriod)
}

func (c *Context) flush() {
	c.mu.Lock()
	req := c.pending
	stamp := c.stamp
	c.pending = types.RefreshRequest{}
	c.stamp = false
	c.mu.Unlock()

	if len(req.Scopes) == 0 {
		return
	}
	if stamp {
		c.markRefreshed()
	}
	if err := c.engine.InvalidateAndRefetch(c.ctx, req.Scopes, req.Source); err != nil {
		c.logger.Error("Context: scheduled refresh failed", "source", req.Source, "error", err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	}
}

// Refresh runs a cycle for scopes immediately and stamps the manual
// refresh time.
func (c *Context) Refresh(ctx context.Context, scopes []types.ScopeKey, source string) error {
	c.markRefreshed()
	return c.engine.InvalidateAndRefetch(ctx, scopes, source)
}

// RefreshAll refreshes every known scope. An empty source means "manual".
func (c *Context) RefreshAll(ctx context.Context, source string) error {
	if source == "" {
		source = SourceManual
	}
	return c.Refresh(ctx, []types.ScopeKey{types.AllScopes}, source)
}

// RefreshScope refreshes a single scope. Names that are neither resolved
// by the rules nor registered with the data layer fail with
// cache.ErrUnknownScope.
func (c *Context) RefreshScope(ctx context.Context, name types.ScopeKey) error {
	if !c.Knows(name) {
		return fmt.Errorf("refresh %s: %w", name, cache.ErrUnknownScope)
	}
	return c.Refresh(ctx, []types.ScopeKey{name}, SourceManual+":"+string(name))
}

// Knows reports whether name is a scope this context can refresh.
func (c *Context) Knows(name types.ScopeKey) bool {
	if name == "" || name == types.AllScopes {
		return false
	}
	for _, s := range c.resolver.Scopes() {
		if s == name {
			return true
		}
	}
	if reg, ok := c.data.(registry); ok {
		return reg.Has(name)
	}
	return false
}

func (c *Context) markRefreshed() {
	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

// LastRefresh returns when the last manual or mutation-triggered cycle started.
func (c *Context) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

// Start begins periodic reconciliation for session.
func (c *Context) Start(session rsync.Session) {
	c.debouncer.Reset()
	c.reconciler.Start(session)
	c.logger.Info("Context: started", "pod", c.opts.PodID)
}

// Stop ends periodic reconciliation and drops scheduled work. Cycles that
// already started run to completion.
func (c *Context) Stop() {
	c.reconciler.Stop()
	c.debouncer.Stop()

	c.mu.Lock()
	c.pending = types.RefreshRequest{}
	c.stamp = false
	c.mu.Unlock()
	c.logger.Info("Context: stopped", "pod", c.opts.PodID)
}

// Close stops the context and detaches it from the bus.
func (c *Context) Close() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.unsubscribe()
	c.cancel()
	return nil
}

// State reports the refresh pipeline phase.
func (c *Context) State() State {
	if c.engine.IsRefreshing() {
		return StateRunning
	}
	if c.debouncer.Pending() {
		return StateScheduled
	}
	return StateIdle
}

// IsRefreshing reports whether any refetch is outstanding.
func (c *Context) IsRefreshing() bool { return c.engine.IsRefreshing() }

// PerformanceMetrics returns the telemetry window, oldest first.
func (c *Context) PerformanceMetrics() []types.PerformanceMetric { return c.collector.Snapshot() }

// MutationCount returns the number of recorded mutations.
func (c *Context) MutationCount() int64 { return c.collector.MutationCount() }

// LastMutationType returns the most recent mutation operation name.
func (c *Context) LastMutationType() string { return c.collector.LastMutationType() }

// Bus returns the mutation event bus.
func (c *Context) Bus() *rsync.Bus { return c.bus }

// Resolver returns the scope resolver.
func (c *Context) Resolver() *scope.Resolver { return c.resolver }

// Collector returns the telemetry collector.
func (c *Context) Collector() *telemetry.Collector { return c.collector }

// Engine returns the invalidation engine.
func (c *Context) Engine() *Engine { return c.engine }

// Reconciler returns the periodic reconciler.
func (c *Context) Reconciler() *rsync.Reconciler { return c.reconciler }

// PodID returns the sender identity of this context.
func (c *Context) PodID() string { return c.opts.PodID }
