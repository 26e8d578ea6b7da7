package sync

import (
	"bytes"
	"strings"
	"testing"

	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/types"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.Subscribe(HandlerFunc(func(e MutationEvent) { order = append(order, "a:"+e.Type) }))
	bus.Subscribe(HandlerFunc(func(e MutationEvent) { order = append(order, "b:"+e.Type) }))

	bus.Publish(types.NewMutationEvent("create-usuario", nil, "pod-1"))
	bus.Publish(types.NewMutationEvent("delete-turma", nil, "pod-1"))

	expected := []string{"a:create-usuario", "b:create-usuario", "a:delete-turma", "b:delete-turma"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("Expected %v, got %v", expected, order)
	}
}

func TestBusIsolatesPanickingHandler(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(cache.NewWriterLogger("bus", &buf))

	bus.Subscribe(HandlerFunc(func(e MutationEvent) { panic("boom") }))
	called := 0
	bus.Subscribe(HandlerFunc(func(e MutationEvent) { called++ }))

	bus.Publish(types.NewMutationEvent("create-escola", nil, "pod-1"))

	if called != 1 {
		t.Fatalf("Second handler should still run, called=%d", called)
	}
	if bus.Faults() != 1 {
		t.Fatalf("Expected 1 fault, got %d", bus.Faults())
	}
	if !strings.Contains(buf.String(), "handler panicked") {
		t.Fatalf("Fault should be logged, got: %s", buf.String())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	unsubscribe := bus.Subscribe(HandlerFunc(func(e MutationEvent) { calls++ }))
	other := 0
	bus.Subscribe(HandlerFunc(func(e MutationEvent) { other++ }))

	bus.Publish(MutationEvent{Type: "x"})
	unsubscribe()
	unsubscribe()
	bus.Publish(MutationEvent{Type: "x"})

	if calls != 1 {
		t.Fatalf("Unsubscribed handler should not receive events, calls=%d", calls)
	}
	if other != 2 {
		t.Fatalf("Remaining handler should receive both events, got %d", other)
	}
	if bus.Len() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", bus.Len())
	}
}

func TestBusSubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)

	late := 0
	bus.Subscribe(HandlerFunc(func(e MutationEvent) {
		bus.Subscribe(HandlerFunc(func(e MutationEvent) { late++ }))
	}))

	bus.Publish(MutationEvent{Type: "x"})
	if late != 0 {
		t.Fatal("Handlers registered during publish must not receive that event")
	}
}
