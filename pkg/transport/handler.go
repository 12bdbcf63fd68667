package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/praekeltfoundation/vumi-telegram/pkg/telegram"
)

const maxUpdateBytes = 1 << 20

// handleUpdate is the webhook ingest pipeline for one inbound request:
// parse, classify, check-and-mark, translate, publish, acknowledge.
//
// The 200 acknowledgement is written only after the dedup store recorded the
// update id and the bus accepted the publish. Telegram retries on any other
// status, which is safe: a duplicate retry short-circuits to 200 without a
// second publish.
func (t *Transport) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.metrics.IncReceived()

	ctx, cancel := context.WithTimeout(r.Context(), t.cfg.RequestTimeout())
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		t.metrics.IncRejected()
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}

	update, err := telegram.ParseUpdate(body)
	if err != nil {
		t.metrics.IncMalformed()
		t.log.Warn("Inbound update in unexpected format", "error", err)
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	kind := telegram.Classify(update)
	updateID := telegram.UpdateID(update)
	log := t.log.With("update_id", updateID, "variant", kind.String())

	msg, ok := t.translator.TranslateInbound(update)
	if !ok {
		// Updates with no forwardable content are acknowledged so Telegram
		// stops redelivering them.
		t.metrics.IncIgnored()
		log.Info("Ignoring inbound update without message content")
		w.WriteHeader(http.StatusOK)
		return
	}

	seen, err := t.deps.Dedup.CheckAndMark(ctx, updateID)
	if err != nil {
		t.metrics.IncRejected()
		log.Error("Dedup store unavailable", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if seen {
		t.metrics.IncDuplicate()
		log.Info("Suppressing duplicate update")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Query envelopes are retained so replies can recover the query id. Saved
	// before the publish so the context exists by the time a consumer replies.
	if kind == telegram.UpdateInlineQuery || kind == telegram.UpdateCallbackQuery {
		if err := t.deps.Contexts.Save(ctx, msg); err != nil {
			log.Warn("Failed to retain reply context", "message_id", msg.MessageID, "error", err)
		}
	}

	if err := t.deps.Publisher.PublishMessage(ctx, t.inboundKey, msg); err != nil {
		t.metrics.IncRejected()
		log.Error("Failed to publish inbound envelope", "message_id", msg.MessageID, "error", err)
		// The mark must not survive a refused publish: Telegram retries on the
		// 503, and a leftover record would suppress that retry as a duplicate.
		if unmarkErr := t.deps.Dedup.Unmark(ctx, updateID); unmarkErr != nil {
			log.Error("Failed to unmark update after refused publish", "error", unmarkErr)
		}
		http.Error(w, "bus unavailable", http.StatusServiceUnavailable)
		return
	}

	t.metrics.IncPublished()
	log.Info("Published inbound envelope", "message_id", msg.MessageID, "from_addr", msg.FromAddr)
	w.WriteHeader(http.StatusOK)
}
