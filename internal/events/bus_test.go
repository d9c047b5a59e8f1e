package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishIsTenantScoped(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe("tenant-a")
	subB := bus.Subscribe("tenant-b")
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	bus.Publish("tenant-a", NewEvent("Orchestrator", StatusWorking, "only for a", nil))

	got := subA.Poll(100 * time.Millisecond)
	assert.Equal(t, "only for a", got.Message)

	other := subB.Poll(10 * time.Millisecond)
	assert.Equal(t, "heartbeat", other.Message)
}

func TestPollTimeoutReturnsHeartbeat(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("tenant-a")
	defer bus.Unsubscribe(sub)

	hb := sub.Poll(10 * time.Millisecond)
	assert.Equal(t, "system", hb.AgentName)
	assert.Equal(t, StatusIdle, hb.Status)
	assert.Equal(t, "heartbeat", hb.Message)
}

func TestFullQueueDropsOldestEvent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("tenant-a")
	defer bus.Unsubscribe(sub)

	total := DefaultQueueSize + 4
	for i := 0; i < total; i++ {
		bus.Publish("tenant-a", NewEvent("Orchestrator", StatusWorking, fmt.Sprintf("msg %d", i), nil))
	}

	first := sub.Poll(100 * time.Millisecond)
	assert.Equal(t, "msg 4", first.Message)

	drained := 1
	for {
		select {
		case <-sub.Events():
			drained++
		default:
			require.Equal(t, DefaultQueueSize, drained)
			return
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("tenant-a")
	assert.Equal(t, 1, bus.SubscriberCount("tenant-a"))

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount("tenant-a"))

	bus.Publish("tenant-a", NewEvent("Orchestrator", StatusWorking, "lost", nil))
	hb := sub.Poll(10 * time.Millisecond)
	assert.Equal(t, "heartbeat", hb.Message)

	// Unsubscribing twice or with nil is harmless.
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
}

func TestNewEventStampsIDAndTimestamp(t *testing.T) {
	ev := NewEvent("Judge", StatusCompleted, "done", map[string]interface{}{"n": 1})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "Judge", ev.AgentName)
	assert.Equal(t, StatusCompleted, ev.Status)

	parsed, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, time.Minute)
}
