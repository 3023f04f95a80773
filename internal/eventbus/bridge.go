package eventbus

import "context"

// HubBus bridges the in-process Hub (which every GET /logs/stream
// connection reads from) to the wider Bus (Redis, or NoopBus when
// unconfigured). Publish fans out locally through the Hub immediately
// and forwards to the underlying Bus so other worker/API processes
// sharing the same Redis channel see the event too; StartForwarder
// wires events arriving from elsewhere back into the local Hub.
type HubBus struct {
	hub      *Hub
	underlying Bus
}

func NewHubBus(hub *Hub, underlying Bus) *HubBus {
	return &HubBus{hub: hub, underlying: underlying}
}

func (b *HubBus) Publish(ctx context.Context, evt Event) error {
	b.hub.Broadcast(evt)
	return b.underlying.Publish(ctx, evt)
}

func (b *HubBus) StartForwarder(ctx context.Context, onEvent func(Event)) error {
	return b.underlying.StartForwarder(ctx, func(evt Event) {
		b.hub.Broadcast(evt)
		if onEvent != nil {
			onEvent(evt)
		}
	})
}

func (b *HubBus) Close() error {
	return b.underlying.Close()
}
