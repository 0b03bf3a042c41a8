// Event bridge: forwards bus system events to WebSocket clients.
package api

import (
	"context"
	"time"

	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/logger"
)

const bridgeTap = "event-bridge"

// EventBridge connects the message bus to the WebSocket hub.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run forwards events until ctx is cancelled or the bus closes. A nil bus
// makes Run wait for ctx.
func (eb *EventBridge) Run(ctx context.Context) {
	if eb.bus == nil {
		<-ctx.Done()
		return
	}
	tap := eb.bus.SubscribeSystem(bridgeTap)
	defer eb.bus.Unsubscribe(bridgeTap)
	logger.InfoC("events", "Event bridge started")

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Event bridge stopped")
			return
		case evt, ok := <-tap:
			if !ok {
				return
			}
			eb.hub.Broadcast(WSEvent{
				Type:      evt.Type,
				Source:    evt.Source,
				Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
				Data:      evt.Data,
			})
		}
	}
}
