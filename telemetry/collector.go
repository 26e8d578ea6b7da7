// Package telemetry keeps a bounded window of operation timings.
package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/huykn/reactive-sync/types"
)

// DefaultCapacity is the number of metrics kept in the window.
const DefaultCapacity = 20

// Rating is the qualitative label for the mean duration.
type Rating string

const (
	RatingGood       Rating = "good"
	RatingAcceptable Rating = "acceptable"
	RatingSlow       Rating = "slow"
)

const (
	goodBelow = 200 * time.Millisecond
	slowAbove = 500 * time.Millisecond
)

// RateDuration labels d: below 200ms good, up to 500ms acceptable, above slow.
func RateDuration(d time.Duration) Rating {
	switch {
	case d < goodBelow:
		return RatingGood
	case d <= slowAbove:
		return RatingAcceptable
	default:
		return RatingSlow
	}
}

// Observer receives every recorded metric.
type Observer interface {
	Observe(metric types.PerformanceMetric)
}

// Collector is a fixed-capacity ring of performance metrics.
type Collector struct {
	mu        sync.RWMutex
	ring      []types.PerformanceMetric
	next      int
	full      bool
	observers []Observer
	now       func() time.Time

	mutationCount    int64
	lastMutationType string
}

// NewCollector creates a collector holding the most recent capacity metrics.
func NewCollector(capacity int, observers ...Observer) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{
		ring:      make([]types.PerformanceMetric, capacity),
		observers: observers,
		now:       time.Now,
	}
}

// Record appends a metric, evicting the oldest when the window is full.
// Operations whose name contains "mutation" also bump the mutation counter.
func (c *Collector) Record(operation string, duration time.Duration, success bool) {
	metric := types.PerformanceMetric{
		Operation: operation,
		Duration:  duration,
		Timestamp: c.now(),
		Success:   success,
	}

	c.mu.Lock()
	c.ring[c.next] = metric
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.full = true
	}
	if strings.Contains(operation, "mutation") {
		c.mutationCount++
		c.lastMutationType = operation
	}
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		o.Observe(metric)
	}
}

// Snapshot returns the window, oldest first.
func (c *Collector) Snapshot() []types.PerformanceMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.full {
		out := make([]types.PerformanceMetric, c.next)
		copy(out, c.ring[:c.next])
		return out
	}
	out := make([]types.PerformanceMetric, 0, len(c.ring))
	out = append(out, c.ring[c.next:]...)
	out = append(out, c.ring[:c.next]...)
	return out
}

// Len returns the number of metrics in the window.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.full {
		return len(c.ring)
	}
	return c.next
}

// AverageDuration is the arithmetic mean over the window, zero when empty.
func (c *Collector) AverageDuration() time.Duration {
	metrics := c.Snapshot()
	if len(metrics) == 0 {
		return 0
	}
	var total time.Duration
	for _, m := range metrics {
		total += m.Duration
	}
	return total / time.Duration(len(metrics))
}

// Rating labels the current average duration.
func (c *Collector) Rating() Rating {
	return RateDuration(c.AverageDuration())
}

// MutationCount is the number of mutation operations recorded so far. It
// is not bounded by the window.
func (c *Collector) MutationCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mutationCount
}

// LastMutationType is the operation name of the most recent mutation.
func (c *Collector) LastMutationType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMutationType
}
