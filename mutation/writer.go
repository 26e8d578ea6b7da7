// Package mutation wraps remote writes so that every successful write is
// timed, announced on the event bus and followed by a refresh of the scopes
// that depend on it.
package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/storage"
	"github.com/huykn/reactive-sync/types"
)

// Gateway performs a remote write and returns the stored record.
type Gateway interface {
	Write(ctx context.Context, endpoint, verb string, payload map[string]any) (json.RawMessage, error)
}

// Syncer announces mutations and refreshes scopes. *engine.Context
// implements it.
type Syncer interface {
	TriggerMutation(mutationType string, payload any) types.MutationEvent
	Refresh(ctx context.Context, scopes []types.ScopeKey, source string) error
}

// Recorder receives write timings.
type Recorder interface {
	Record(operation string, duration time.Duration, success bool)
}

// Request describes one write.
type Request struct {
	Endpoint string
	Verb     string
	Payload  map[string]any

	// Type is the mutation type published on success. If empty, it
	// defaults to "<action>-<endpoint>", e.g. "create-usuario".
	Type string

	// DependentScopes are refreshed right after a successful write,
	// ahead of the debounced refresh the published event triggers.
	DependentScopes []types.ScopeKey
}

// Result is the outcome of a successful write.
type Result struct {
	Record json.RawMessage
	Event  types.MutationEvent

	// RefreshErr is set when refreshing DependentScopes failed. The write
	// itself still succeeded.
	RefreshErr error
}

// Writer performs writes through a Gateway.
type Writer struct {
	gateway  Gateway
	syncer   Syncer
	recorder Recorder
	logger   cache.Logger
}

// NewWriter creates a writer. A nil logger defaults to no-op.
func NewWriter(gateway Gateway, syncer Syncer, recorder Recorder, logger cache.Logger) *Writer {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Writer{gateway: gateway, syncer: syncer, recorder: recorder, logger: logger}
}

// Perform runs the write. A failed write is recorded and returned wrapped
// with endpoint and verb; nothing is published for it.
func (w *Writer) Perform(ctx context.Context, req Request) (*Result, error) {
	mutationType, err := TypeFor(req)
	if err != nil {
		return nil, err
	}
	operation := "mutation:" + mutationType

	start := time.Now()
	record, err := w.gateway.Write(ctx, req.Endpoint, req.Verb, req.Payload)
	elapsed := time.Since(start)
	if w.recorder != nil {
		w.recorder.Record(operation, elapsed, err == nil)
	}
	if err != nil {
		w.logger.Warn("Writer: write failed", "endpoint", req.Endpoint, "verb", req.Verb, "error", err)
		return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(req.Verb), req.Endpoint, err)
	}

	res := &Result{Record: record}
	if w.syncer == nil {
		return res, nil
	}

	res.Event = w.syncer.TriggerMutation(mutationType, req.Payload)
	if len(req.DependentScopes) > 0 {
		if err := w.syncer.Refresh(ctx, req.DependentScopes, operation); err != nil {
			w.logger.Warn("Writer: dependent refresh failed", "type", mutationType, "error", err)
			res.RefreshErr = err
		}
	}
	return res, nil
}

// TypeFor returns req.Type, or "<action>-<endpoint>" when it is empty.
func TypeFor(req Request) (string, error) {
	if req.Type != "" {
		return req.Type, nil
	}
	action, err := storage.ActionForVerb(req.Verb)
	if err != nil {
		return "", err
	}
	return string(action) + "-" + req.Endpoint, nil
}
