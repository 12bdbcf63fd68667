package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/praekeltfoundation/vumi-telegram/pkg/bus"
	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
	"github.com/praekeltfoundation/vumi-telegram/pkg/metrics"
	"github.com/praekeltfoundation/vumi-telegram/pkg/retry"
	"github.com/praekeltfoundation/vumi-telegram/pkg/store"
	"github.com/praekeltfoundation/vumi-telegram/pkg/telegram"
)

// Dispatcher turns outbound envelopes into Telegram API calls and reports
// delivery outcomes back on the bus. Translation failures and terminal API
// errors become nack events; they are never swallowed.
type Dispatcher struct {
	translator *telegram.Translator
	client     *APIClient
	publisher  bus.Publisher
	contexts   store.ReplyContextStore
	eventKey   string
	retry      retry.Config
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// Handle processes one outbound envelope from the bus. The returned error is
// reserved for bus-level failures (event publish refused); delivery failures
// are reported as nacks and complete the delivery.
func (d *Dispatcher) Handle(ctx context.Context, msg message.TransportMessage) error {
	original := d.resolveReplyContext(ctx, msg)

	calls, err := d.translator.TranslateOutbound(msg, original)
	if err != nil {
		d.metrics.IncSendFailed()
		d.log.Warn("Outbound translation failed", "message_id", msg.MessageID, "error", err)
		return d.nack(ctx, msg, err.Error())
	}

	// Calls execute in the order produced; one failure does not suppress
	// later, independent calls.
	var failed bool
	for _, call := range calls {
		if err := d.execute(ctx, call); err != nil {
			failed = true
			d.metrics.IncSendFailed()
			d.log.Error("Outbound call failed", "message_id", msg.MessageID, "method", call.Method, "error", err)
			if nackErr := d.nack(ctx, msg, err.Error()); nackErr != nil {
				return nackErr
			}
		}
	}
	if failed {
		return nil
	}

	d.metrics.IncSent()
	return d.ack(ctx, msg)
}

// execute runs one API call, retrying transient failures with backoff.
func (d *Dispatcher) execute(ctx context.Context, call telegram.APICall) error {
	return retry.Do(ctx, d.retry, func() error {
		err := d.client.Call(ctx, call)
		if err != nil && !IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

// resolveReplyContext loads the inbound envelope referenced by in_reply_to for
// query replies. A lookup failure is logged, not fatal: the reply may carry
// its own query id in metadata.
func (d *Dispatcher) resolveReplyContext(ctx context.Context, msg message.TransportMessage) *message.TransportMessage {
	if msg.InReplyTo == "" {
		return nil
	}

	switch msg.MetadataType() {
	case telegram.TypeInlineQueryReply, telegram.TypeCallbackQueryReply:
	default:
		return nil
	}

	original, err := d.contexts.Load(ctx, msg.InReplyTo)
	if err != nil {
		d.log.Warn("Reply context lookup failed", "message_id", msg.MessageID, "in_reply_to", msg.InReplyTo, "error", err)
		return nil
	}

	return original
}

func (d *Dispatcher) ack(ctx context.Context, msg message.TransportMessage) error {
	if err := d.publisher.PublishEvent(ctx, d.eventKey, message.NewAck(msg)); err != nil {
		return fmt.Errorf("publish ack for %s: %w", msg.MessageID, err)
	}

	return nil
}

func (d *Dispatcher) nack(ctx context.Context, msg message.TransportMessage, reason string) error {
	if err := d.publisher.PublishEvent(ctx, d.eventKey, message.NewNack(msg, reason)); err != nil {
		return fmt.Errorf("publish nack for %s: %w", msg.MessageID, err)
	}

	return nil
}
