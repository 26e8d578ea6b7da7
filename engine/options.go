package engine

import (
	"errors"
	"time"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/notify"
	"github.com/huykn/reactive-sync/scope"
	rsync "github.com/huykn/reactive-sync/sync"
	"github.com/huykn/reactive-sync/telemetry"
	"github.com/huykn/reactive-sync/types"
)

// Refresh sources.
const (
	SourceMutation = "mutation-event"
	SourcePeriodic = "periodic"
	SourceManual   = "manual"
)

// DefaultRefetchTimeout bounds a single scope refetch.
const DefaultRefetchTimeout = 10 * time.Second

// Options configures a synchronization Context.
type Options struct {
	// PodID identifies this process as the sender of published events.
	// If empty, defaults to "local".
	PodID string

	// Rules maps mutation types to scopes. If nil, defaults to scope.DefaultRules.
	Rules []scope.Rule

	// ExtraScopes belong to the "all" set without being named by any rule.
	ExtraScopes []types.ScopeKey

	// QuietPeriod is the debounce window for mutation events.
	QuietPeriod time.Duration

	// RefetchTimeout bounds each scope refetch.
	RefetchTimeout time.Duration

	// MaxConcurrentRefetches caps parallel refetches within a cycle.
	// Zero means no limit.
	MaxConcurrentRefetches int

	// ReconcileInterval and ReconcileGuard drive the periodic refresh.
	ReconcileInterval time.Duration
	ReconcileGuard    time.Duration

	// TelemetryCapacity is the size of the performance window.
	TelemetryCapacity int

	// Observers receive every recorded metric.
	Observers []telemetry.Observer

	// Sink receives one notification per cycle with failures.
	// If nil, failures are only logged.
	Sink notify.Sink

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when a scheduled or periodic cycle fails.
	OnError func(error)

	// OnCycle is called after every refresh cycle.
	OnCycle func(Cycle)
}

// DefaultOptions returns default context options.
func DefaultOptions() Options {
	return Options{
		PodID:             "local",
		QuietPeriod:       rsync.DefaultQuietPeriod,
		RefetchTimeout:    DefaultRefetchTimeout,
		ReconcileInterval: rsync.DefaultReconcileInterval,
		ReconcileGuard:    rsync.DefaultReconcileGuard,
		TelemetryCapacity: telemetry.DefaultCapacity,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.QuietPeriod <= 0 || o.RefetchTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.ReconcileInterval <= 0 || o.ReconcileGuard <= 0 {
		return ErrInvalidConfig
	}
	if o.MaxConcurrentRefetches < 0 || o.TelemetryCapacity < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid sync engine configuration")
