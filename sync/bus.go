package sync

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/types"
)

// MutationEvent is an alias for types.MutationEvent
type MutationEvent = types.MutationEvent

// Handler receives mutation events.
type Handler interface {
	Handle(event MutationEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(event MutationEvent)

// Handle calls f(event).
func (f HandlerFunc) Handle(event MutationEvent) { f(event) }

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the in-process mutation event bus. Publish delivers synchronously
// to the handlers registered at publish time, in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger cache.Logger
	faults int64
}

// NewBus creates an empty bus. A nil logger discards handler faults.
func NewBus(logger cache.Logger) *Bus {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler and returns a function that removes it.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					subs := make([]subscription, 0, len(b.subs)-1)
					subs = append(subs, b.subs[:i]...)
					b.subs = append(subs, b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish fans event out to every current subscriber. A panicking handler
// is recovered and logged; the remaining handlers still run.
func (b *Bus) Publish(event MutationEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s.handler, event)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Faults returns how many handler invocations panicked.
func (b *Bus) Faults() int64 {
	return atomic.LoadInt64(&b.faults)
}

func (b *Bus) dispatch(handler Handler, event MutationEvent) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.faults, 1)
			b.logger.Error("Bus: handler panicked", "type", event.Type, "id", event.ID, "panic", fmt.Sprint(r))
		}
	}()
	handler.Handle(event)
}
