package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/execclient/pkg/events"
)

func TestFanOutToEveryTap(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	a := mb.SubscribeSystem("a")
	b := mb.SubscribeSystem("b")

	mb.Publish(events.TickStarted, "orchestrator", events.TickEventData{Tick: 1})

	for _, tap := range []<-chan events.Event{a, b} {
		evt := <-tap
		assert.Equal(t, events.TickStarted, evt.Type)
		assert.Equal(t, "orchestrator", evt.Source)
		data, ok := evt.Data.(events.TickEventData)
		require.True(t, ok)
		assert.EqualValues(t, 1, data.Tick)
		assert.False(t, evt.Timestamp.IsZero())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	tap := mb.SubscribeSystem("slow")

	for i := 0; i < 100; i++ {
		mb.Publish(events.MessageProcessed, "orchestrator", nil)
	}
	assert.Len(t, tap, 64)
}

func TestUnsubscribeClosesTap(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	tap := mb.SubscribeSystem("bridge")
	mb.SubscribeSystem("other")

	mb.Unsubscribe("bridge")
	_, ok := <-tap
	assert.False(t, ok)
	assert.Equal(t, 1, mb.SubscriberCount())
}

func TestCloseIsIdempotent(t *testing.T) {
	mb := NewMessageBus()
	tap := mb.SubscribeSystem("a")
	mb.Close()
	mb.Close()

	_, ok := <-tap
	assert.False(t, ok)

	// Publishing and subscribing after close are safe.
	mb.Publish(events.ServiceState, "test", nil)
	_, ok = <-mb.SubscribeSystem("late")
	assert.False(t, ok)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var mb *MessageBus
	assert.NotPanics(t, func() { mb.Publish(events.TickStarted, "x", nil) })
}
