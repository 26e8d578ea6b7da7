// Package notify surfaces short-lived, auto-dismissing messages to users.
package notify

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/huykn/reactive-sync/cache"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is one user-facing message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sink receives notifications. Notify must not block.
type Sink interface {
	Notify(n Notification)
}

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 5 * time.Second

// Inbox keeps notifications until they expire.
type Inbox struct {
	items *gocache.Cache
	ttl   time.Duration
	seq   uint64
}

// NewInbox creates an inbox whose messages dismiss themselves after ttl.
func NewInbox(ttl time.Duration) *Inbox {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Inbox{
		items: gocache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// Notify implements Sink.
func (in *Inbox) Notify(n Notification) {
	now := time.Now()
	if n.ID == "" {
		n.ID = strconv.FormatUint(atomic.AddUint64(&in.seq, 1), 10)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.ExpiresAt = now.Add(in.ttl)
	in.items.Set(n.ID, n, in.ttl)
}

// Active returns the notifications that have not expired, oldest first.
func (in *Inbox) Active() []Notification {
	items := in.items.Items()
	out := make([]Notification, 0, len(items))
	for _, it := range items {
		if it.Expired() {
			continue
		}
		if n, ok := it.Object.(Notification); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Dismiss removes a notification before it expires.
func (in *Inbox) Dismiss(id string) {
	in.items.Delete(id)
}

// LogSink writes notifications to a logger.
type LogSink struct {
	Logger cache.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(n Notification) {
	if s.Logger == nil {
		return
	}
	if n.Level == LevelError {
		s.Logger.Error(n.Title, "message", n.Message)
		return
	}
	s.Logger.Info(n.Title, "message", n.Message)
}

// Fanout delivers to every sink.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(n Notification) {
	for _, s := range f {
		s.Notify(n)
	}
}
