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

const defaultHandlerTimeout = 30 * time.Second

// AMQPConsumer drains one queue of outbound envelopes through a bounded worker
// pool with manual acknowledgement.
type AMQPConsumer struct {
	conn       *amqp091.Connection
	exchange   string
	queue      string
	routingKey string
	prefetch   int
	workers    int
	log        *slog.Logger

	ch *amqp091.Channel
}

// NewConsumer builds a consumer for queue bound to exchange under routingKey.
func NewConsumer(conn *amqp091.Connection, exchange, queue, routingKey string, prefetch, workers int, log *slog.Logger) *AMQPConsumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = slog.Default()
	}

	return &AMQPConsumer{
		conn:       conn,
		exchange:   exchange,
		queue:      queue,
		routingKey: routingKey,
		prefetch:   prefetch,
		workers:    workers,
		log:        log.With("component", "bus.consumer"),
	}
}

// Start declares the queue, binds it, and dispatches deliveries to handler
// until ctx is cancelled or the delivery stream closes.
func (c *AMQPConsumer) Start(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	c.ch = ch

	if err := c.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup for %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.log.Info("Consumer started", "queue", c.queue, "workers", c.workers)

	return c.run(ctx, deliveries, handler)
}

// run dispatches deliveries to the worker pool until ctx is cancelled. A
// delivery stream that closes while the context is still live means the
// channel or connection died; that is surfaced as an error rather than
// blocking forever with a dead outbound half.
func (c *AMQPConsumer) run(ctx context.Context, deliveries <-chan amqp091.Delivery, handler MessageHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx, deliveries, handler)
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-ctx.Done():
		<-workersDone
		return nil
	case <-workersDone:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("delivery stream for %s closed", c.queue)
	}
}

func (c *AMQPConsumer) setupQueue(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	queue, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}

	return ch.QueueBind(queue.Name, c.routingKey, c.exchange, false, nil)
}

func (c *AMQPConsumer) workerLoop(ctx context.Context, deliveries <-chan amqp091.Delivery, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *AMQPConsumer) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler MessageHandler) {
	var msg message.TransportMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.log.Warn("Dropping undecodable delivery", "queue", c.queue, "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, defaultHandlerTimeout)
	err := handler(handlerCtx, msg)
	cancel()
	if err != nil {
		c.log.Error("Outbound handler failed", "message_id", msg.MessageID, "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	_ = delivery.Ack(false)
}

// Close shuts the consume channel, ending the delivery stream.
func (c *AMQPConsumer) Close() error {
	if c.ch == nil {
		return nil
	}

	return c.ch.Close()
}
