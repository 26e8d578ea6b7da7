package reactivesync

import (
	"time"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/engine"
	"github.com/huykn/reactive-sync/mutation"
	"github.com/huykn/reactive-sync/scope"
	"github.com/huykn/reactive-sync/telemetry"
)

// Config configures a synchronization system.
type Config struct {
	// PodID identifies this process as the sender of mutation events.
	PodID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// Store mirrors scope snapshots remotely. Optional.
	Store Store

	// Marshaller serializes snapshots for Store.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds snapshot store calls.
	ContextTimeout time.Duration

	// QuietPeriod is the debounce window for mutation events.
	QuietPeriod time.Duration

	// RefetchTimeout bounds each scope refetch.
	RefetchTimeout time.Duration

	// ReconcileInterval and ReconcileGuard drive the periodic refresh.
	ReconcileInterval time.Duration
	ReconcileGuard    time.Duration

	// Rules maps mutation types to scopes. If nil, defaults to the
	// built-in administration rules.
	Rules []scope.Rule

	// Observers receive every performance metric.
	Observers []telemetry.Observer

	// Sink receives refresh failure notifications.
	Sink Sink

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	def := engine.DefaultOptions()
	return Config{
		PodID:             "default-pod",
		LocalCacheConfig:  DefaultLocalCacheConfig(),
		LocalCacheFactory: nil, // Will default to Ristretto in New()
		Marshaller:        nil, // Will default to JSON in New()
		Logger:            nil, // Will default to no-op in New()
		DebugMode:         false,
		ContextTimeout:    5 * time.Second,
		QuietPeriod:       def.QuietPeriod,
		RefetchTimeout:    def.RefetchTimeout,
		ReconcileInterval: def.ReconcileInterval,
		ReconcileGuard:    def.ReconcileGuard,
	}
}

// System couples the scope cache with the synchronization context that
// keeps it coherent.
type System struct {
	*cache.ScopeCache
	*engine.Context

	logger Logger
}

// New creates a synchronization system.
// This is the root-level initialization function that allows users to import from the root package.
func New(cfg Config) (*System, error) {
	sc, err := cache.New(cache.Options{
		LocalCacheConfig:  cfg.LocalCacheConfig,
		LocalCacheFactory: cfg.LocalCacheFactory,
		Store:             cfg.Store,
		SnapshotPrefix:    "scope:",
		Marshaller:        cfg.Marshaller,
		Logger:            cfg.Logger,
		DebugMode:         cfg.DebugMode,
		ContextTimeout:    cfg.ContextTimeout,
		OnError:           cfg.OnError,
	})
	if err != nil {
		return nil, err
	}

	opts := engine.DefaultOptions()
	opts.PodID = cfg.PodID
	opts.Rules = cfg.Rules
	opts.QuietPeriod = cfg.QuietPeriod
	opts.RefetchTimeout = cfg.RefetchTimeout
	opts.ReconcileInterval = cfg.ReconcileInterval
	opts.ReconcileGuard = cfg.ReconcileGuard
	opts.Observers = cfg.Observers
	opts.Sink = cfg.Sink
	opts.Logger = cfg.Logger
	opts.DebugMode = cfg.DebugMode
	opts.OnError = cfg.OnError

	ctx, err := engine.New(sc, opts)
	if err != nil {
		sc.Close()
		return nil, err
	}
	return &System{ScopeCache: sc, Context: ctx, logger: cfg.Logger}, nil
}

// Writer returns a mutation writer over gateway that reports to this system.
func (s *System) Writer(gateway mutation.Gateway) *mutation.Writer {
	return mutation.NewWriter(gateway, s.Context, s.Collector(), s.logger)
}

// Close stops the synchronization context and closes the cache.
func (s *System) Close() error {
	if err := s.Context.Close(); err != nil {
		return err
	}
	return s.ScopeCache.Close()
}
