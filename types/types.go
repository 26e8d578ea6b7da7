package types

import (
	"time"

	"github.com/google/uuid"
)

// ScopeKey identifies one independently cacheable unit of remote data
// (e.g. "users", "dashboard-stats").
type ScopeKey string

// AllScopes is the sentinel meaning "every known scope".
const AllScopes ScopeKey = "*"

// MutationEvent is the notification emitted once per successful write.
// The Type tag is used to infer the affected scopes.
type MutationEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
}

// NewMutationEvent creates an event stamped with a fresh ID and the current time.
func NewMutationEvent(mutationType string, payload any, sender string) MutationEvent {
	return MutationEvent{
		ID:        uuid.NewString(),
		Type:      mutationType,
		Payload:   payload,
		Timestamp: time.Now(),
		Sender:    sender,
	}
}

// PerformanceMetric is one timed operation kept by the telemetry collector.
type PerformanceMetric struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
}

// DurationMs returns the duration in milliseconds.
func (m PerformanceMetric) DurationMs() float64 {
	return float64(m.Duration) / float64(time.Millisecond)
}

// RefreshRequest asks for the given scopes to be refreshed because of Source.
type RefreshRequest struct {
	Scopes []ScopeKey
	Source string
}

// IsAll reports whether the request targets every known scope.
func (r RefreshRequest) IsAll() bool {
	for _, s := range r.Scopes {
		if s == AllScopes {
			return true
		}
	}
	return false
}

// Merge returns the union of both requests. An AllScopes member on either
// side makes the result AllScopes. The source of other wins.
func (r RefreshRequest) Merge(other RefreshRequest) RefreshRequest {
	if r.IsAll() || other.IsAll() {
		return RefreshRequest{Scopes: []ScopeKey{AllScopes}, Source: other.Source}
	}
	seen := make(map[ScopeKey]struct{}, len(r.Scopes)+len(other.Scopes))
	merged := make([]ScopeKey, 0, len(r.Scopes)+len(other.Scopes))
	for _, list := range [][]ScopeKey{r.Scopes, other.Scopes} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			merged = append(merged, s)
		}
	}
	return RefreshRequest{Scopes: merged, Source: other.Source}
}
