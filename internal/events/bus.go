package events

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultQueueSize bounds each subscriber's backlog.
	DefaultQueueSize = 256

	// HeartbeatInterval is how long a poll waits before emitting a
	// heartbeat sentinel to keep streaming connections alive.
	HeartbeatInterval = 15 * time.Second
)

// Agent status values carried on progress events.
const (
	StatusIdle      = "idle"
	StatusWorking   = "working"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one progress notification from an evaluation run.
type Event struct {
	ID        string                 `json:"id,omitempty"`
	AgentName string                 `json:"agent_name"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewEvent stamps an event with a time-sortable id and the current time.
func NewEvent(agentName, status, message string, details map[string]interface{}) Event {
	now := time.Now()
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.New(rand.NewSource(now.UnixNano()))).String(),
		AgentName: agentName,
		Status:    status,
		Message:   message,
		Timestamp: now.Format(time.RFC3339Nano),
		Details:   details,
	}
}

// Heartbeat is the sentinel delivered when a poll times out with no events.
func Heartbeat() Event {
	return Event{
		AgentName: "system",
		Status:    StatusIdle,
		Message:   "heartbeat",
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// Subscriber owns one bounded queue of events for a single tenant stream.
type Subscriber struct {
	id     string
	tenant string
	queue  chan Event
}

// Bus is a tenant-scoped publish/subscribe hub. Publishing never blocks: a
// full subscriber queue drops its oldest event to admit the new one.
type Bus struct {
	mu        sync.Mutex
	queueSize int
	subs      map[string]map[string]*Subscriber // tenant -> subscriber id -> subscriber
}

func NewBus() *Bus {
	return &Bus{
		queueSize: DefaultQueueSize,
		subs:      make(map[string]map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber for the tenant's event stream.
func (b *Bus) Subscribe(tenantID string) *Subscriber {
	sub := &Subscriber{
		id:     ulid.Make().String(),
		tenant: tenantID,
		queue:  make(chan Event, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[string]*Subscriber)
	}
	b.subs[tenantID][sub.id] = sub
	return sub
}

// Unsubscribe removes the subscriber and reclaims its queue.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if tenantSubs, ok := b.subs[sub.tenant]; ok {
		delete(tenantSubs, sub.id)
		if len(tenantSubs) == 0 {
			delete(b.subs, sub.tenant)
		}
	}
}

// Publish enqueues the event on every subscriber for the tenant. On a full
// queue the oldest event is dropped, never the newest.
func (b *Bus) Publish(tenantID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[tenantID] {
		for {
			select {
			case sub.queue <- event:
			default:
				select {
				case <-sub.queue:
				default:
				}
				continue
			}
			break
		}
	}
}

// SubscriberCount reports how many subscribers a tenant currently has.
func (b *Bus) SubscriberCount(tenantID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tenantID])
}

// Poll waits up to timeout for the next event, returning a heartbeat when
// nothing arrives in time.
func (s *Subscriber) Poll(timeout time.Duration) Event {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event := <-s.queue:
		return event
	case <-timer.C:
		return Heartbeat()
	}
}

// Events exposes the raw queue for select-based consumers.
func (s *Subscriber) Events() <-chan Event {
	return s.queue
}
