package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// AMQPPublisher publishes envelopes and events to a topic exchange with
// publisher confirms, so a successful publish means the broker accepted the
// message.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger

	mu sync.Mutex
	ch *amqp091.Channel
}

// NewPublisher declares the exchange and opens a confirm-mode channel.
func NewPublisher(conn *amqp091.Connection, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if log == nil {
		log = slog.Default()
	}

	ch, err := openConfirmChannel(conn, exchange)
	if err != nil {
		return nil, err
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		log:      log.With("component", "bus.publisher"),
		ch:       ch,
	}, nil
}

func openConfirmChannel(conn *amqp091.Connection, exchange string) (*amqp091.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return ch, nil
}

// PublishMessage publishes one transport envelope under routingKey.
func (p *AMQPPublisher) PublishMessage(ctx context.Context, routingKey string, msg message.TransportMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", msg.MessageID, err)
	}

	return p.publish(ctx, routingKey, msg.MessageID, body)
}

// PublishEvent publishes one delivery event under routingKey.
func (p *AMQPPublisher) PublishEvent(ctx context.Context, routingKey string, event message.TransportEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}

	return p.publish(ctx, routingKey, event.EventID, body)
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := openConfirmChannel(p.conn, p.exchange)
		if err != nil {
			return err
		}
		p.ch = ch
	}

	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, routingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", messageID, routingKey, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", messageID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected publish %s to %s", messageID, routingKey)
	}

	p.log.Debug("Published", "key", routingKey, "message_id", messageID)
	return nil
}

// Close releases the publish channel. The shared connection is left to its
// owner.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}

	err := p.ch.Close()
	p.ch = nil
	return err
}
