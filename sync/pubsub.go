package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/reactive-sync/cache"
	"github.com/redis/go-redis/v9"
)

// DefaultRelayBuffer is how many outgoing events a bridge queues.
const DefaultRelayBuffer = 256

// ErrRelayBacklog is reported when an outgoing event is dropped because the
// queue is full.
var ErrRelayBacklog = errors.New("pubsub bridge: outgoing queue full")

// PubSubBridge relays mutation events between processes over Redis Pub/Sub.
// Events this pod publishes on its local bus are forwarded to the channel;
// events from other pods are republished on the local bus. Outgoing events
// are queued and published by a background goroutine, so a slow Redis never
// blocks the bus.
type PubSubBridge struct {
	client  *redis.Client
	channel string
	podID   string
	bus     *Bus
	logger  cache.Logger
	timeout time.Duration
	onError func(error)

	outbox  chan MutationEvent
	dropped int64

	pubsub      *redis.PubSub
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewPubSubBridge creates a bridge for bus on channel.
func NewPubSubBridge(client *redis.Client, channel, podID string, bus *Bus, logger cache.Logger) *PubSubBridge {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &PubSubBridge{
		client:  client,
		channel: channel,
		podID:   podID,
		bus:     bus,
		logger:  logger,
		timeout: 5 * time.Second,
		outbox:  make(chan MutationEvent, DefaultRelayBuffer),
		done:    make(chan struct{}),
	}
}

// OnError registers a callback for relay failures.
func (ps *PubSubBridge) OnError(fn func(error)) {
	ps.onError = fn
}

// Start subscribes to the channel and begins relaying in both directions.
func (ps *PubSubBridge) Start(ctx context.Context) error {
	ps.pubsub = ps.client.Subscribe(ctx, ps.channel)

	// Wait for the subscription to be confirmed so no event published right
	// after Start is missed.
	if _, err := ps.pubsub.Receive(ctx); err != nil {
		ps.pubsub.Close()
		return err
	}

	ps.wg.Add(2)
	go ps.listenForEvents()
	go ps.publishEvents()

	ps.unsubscribe = ps.bus.Subscribe(HandlerFunc(ps.forward))
	return nil
}

// Close stops relaying and closes the subscription.
func (ps *PubSubBridge) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		if ps.unsubscribe != nil {
			ps.unsubscribe()
		}
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

// forward queues locally originated events for publishing. It never
// blocks; when the queue is full the event is dropped and reported.
func (ps *PubSubBridge) forward(event MutationEvent) {
	if event.Sender != ps.podID {
		return
	}

	select {
	case ps.outbox <- event:
	default:
		atomic.AddInt64(&ps.dropped, 1)
		ps.report("Bridge: outgoing queue full, dropping event", event, ErrRelayBacklog)
	}
}

// Dropped returns how many outgoing events were dropped on a full queue.
func (ps *PubSubBridge) Dropped() int64 {
	return atomic.LoadInt64(&ps.dropped)
}

// publishEvents drains the outgoing queue. Events still queued at Close
// are dropped.
func (ps *PubSubBridge) publishEvents() {
	defer ps.wg.Done()

	for {
		select {
		case <-ps.done:
			return
		case event := <-ps.outbox:
			ps.publish(event)
		}
	}
}

func (ps *PubSubBridge) publish(event MutationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		ps.report("Bridge: failed to encode event", event, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ps.timeout)
	defer cancel()
	if err := ps.client.Publish(ctx, ps.channel, data).Err(); err != nil {
		ps.report("Bridge: failed to publish event", event, err)
	}
}

// listenForEvents republishes events from other pods on the local bus.
func (ps *PubSubBridge) listenForEvents() {
	defer ps.wg.Done()

	ch := ps.pubsub.Channel()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}

			var event MutationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				ps.logger.Warn("Bridge: dropping undecodable message", "channel", msg.Channel, "error", err)
				continue
			}

			// Own events were already delivered locally.
			if event.Sender == ps.podID {
				continue
			}

			ps.bus.Publish(event)
		}
	}
}

func (ps *PubSubBridge) report(msg string, event MutationEvent, err error) {
	if ps.onError != nil {
		ps.onError(err)
	}
	ps.logger.Warn(msg, "type", event.Type, "id", event.ID, "error", err)
}
