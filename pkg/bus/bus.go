// Package bus moves transport envelopes and delivery events over RabbitMQ.
// Inbound envelopes and events are published to a topic exchange; outbound
// envelopes are consumed from a queue bound to the same exchange.
package bus

import (
	"context"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// Publisher pushes normalized envelopes and delivery events onto the bus.
type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, msg message.TransportMessage) error
	PublishEvent(ctx context.Context, routingKey string, event message.TransportEvent) error
	Close() error
}

// MessageHandler processes one outbound envelope taken off the bus. A non-nil
// error rejects the delivery.
type MessageHandler func(context.Context, message.TransportMessage) error

// Consumer drains outbound envelopes from the bus into a handler.
type Consumer interface {
	// Start declares the queue, binds it, and blocks dispatching deliveries to
	// handler until ctx is cancelled.
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Routing keys and queue names derive from the configured transport name so
// several transports can share one broker.
func InboundKey(transportName string) string {
	return transportName + ".inbound"
}

func EventKey(transportName string) string {
	return transportName + ".event"
}

func OutboundQueue(transportName string) string {
	return transportName + ".outbound"
}
