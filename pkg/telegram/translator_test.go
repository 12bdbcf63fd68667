package telegram

import (
	"errors"
	"testing"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

func newTestTranslator() *Translator {
	return NewTranslator("vumibot", "telegram_transport")
}

func TestParseUpdateMalformed(t *testing.T) {
	if _, err := ParseUpdate([]byte("this is not JSON")); !errors.Is(err, ErrMalformedUpdate) {
		t.Fatalf("ParseUpdate error = %v, want ErrMalformedUpdate", err)
	}
}

func TestClassifyVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
		want UpdateKind
	}{
		{"text message", `{"update_id":1,"message":{"message_id":1,"chat":{"id":5},"text":"hi"}}`, UpdateMessage},
		{"caption only", `{"update_id":2,"message":{"message_id":2,"chat":{"id":5},"caption":"pic"}}`, UpdateMessage},
		{"inline query", `{"update_id":3,"inline_query":{"id":"q1","from":{"id":7,"first_name":"A"},"query":"pizza","offset":""}}`, UpdateInlineQuery},
		{"callback query", `{"update_id":4,"callback_query":{"id":"c1","from":{"id":7,"first_name":"A"},"chat_instance":"x","data":"pressed"}}`, UpdateCallbackQuery},
		{"no message", `{"update_id":5}`, UpdateUnsupported},
		{"non-text message", `{"update_id":6,"message":{"message_id":3,"chat":{"id":5}}}`, UpdateUnsupported},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			update, err := ParseUpdate([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseUpdate error: %v", err)
			}
			if got := Classify(update); got != tc.want {
				t.Fatalf("Classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTranslateInboundMessage(t *testing.T) {
	update, err := ParseUpdate([]byte(`{
		"update_id": 10,
		"message": {
			"message_id": 1,
			"from": {"id": 12345, "first_name": "Alice", "username": "alice"},
			"chat": {"id": 12345, "type": "private"},
			"text": "hello world"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	msg, ok := newTestTranslator().TranslateInbound(update)
	if !ok {
		t.Fatal("expected message update to translate")
	}

	if msg.Content != "hello world" {
		t.Fatalf("content = %q, want %q", msg.Content, "hello world")
	}
	if msg.FromAddr != "12345" {
		t.Fatalf("from_addr = %q, want %q", msg.FromAddr, "12345")
	}
	if msg.ToAddr != "vumibot" {
		t.Fatalf("to_addr = %q, want %q", msg.ToAddr, "vumibot")
	}
	if msg.TransportType != TransportType {
		t.Fatalf("transport_type = %q, want %q", msg.TransportType, TransportType)
	}
	if got := msg.TelegramMetadata()["telegram_username"]; got != "alice" {
		t.Fatalf("telegram_username = %v, want %q", got, "alice")
	}
	if msg.MessageID == "" {
		t.Fatal("expected a message id")
	}
}

func TestTranslateInboundChannelMessageUsesChatID(t *testing.T) {
	update, err := ParseUpdate([]byte(`{
		"update_id": 11,
		"message": {
			"message_id": 2,
			"chat": {"id": -100987, "type": "channel"},
			"text": "broadcast"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	msg, ok := newTestTranslator().TranslateInbound(update)
	if !ok {
		t.Fatal("expected channel message to translate")
	}
	if msg.FromAddr != "-100987" {
		t.Fatalf("from_addr = %q, want chat id %q", msg.FromAddr, "-100987")
	}
}

func TestTranslateInboundCaptionFallback(t *testing.T) {
	update, err := ParseUpdate([]byte(`{
		"update_id": 12,
		"message": {
			"message_id": 3,
			"from": {"id": 9, "first_name": "Bob"},
			"chat": {"id": 9, "type": "private"},
			"caption": "look at this"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	msg, ok := newTestTranslator().TranslateInbound(update)
	if !ok {
		t.Fatal("expected caption message to translate")
	}
	if msg.Content != "look at this" {
		t.Fatalf("content = %q, want caption", msg.Content)
	}
	if got := msg.TelegramMetadata()["telegram_username"]; got != "Bob" {
		t.Fatalf("telegram_username = %v, want first name fallback", got)
	}
}

func TestTranslateInboundInlineQuery(t *testing.T) {
	update, err := ParseUpdate([]byte(`{
		"update_id": 13,
		"inline_query": {
			"id": "q1",
			"from": {"id": 777, "first_name": "Alice", "username": "alice"},
			"query": "pizza",
			"offset": ""
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	msg, ok := newTestTranslator().TranslateInbound(update)
	if !ok {
		t.Fatal("expected inline query to translate")
	}

	if msg.Content != "pizza" {
		t.Fatalf("content = %q, want %q", msg.Content, "pizza")
	}
	if got := msg.MetadataType(); got != TypeInlineQuery {
		t.Fatalf("metadata type = %q, want %q", got, TypeInlineQuery)
	}
	if got := msg.MetadataDetails()["inline_query_id"]; got != "q1" {
		t.Fatalf("inline_query_id = %v, want %q", got, "q1")
	}
	if got := msg.TelegramMetadata()["telegram_username"]; got != "alice" {
		t.Fatalf("telegram_username = %v, want %q", got, "alice")
	}
	if msg.FromAddr != "777" {
		t.Fatalf("from_addr = %q, want %q", msg.FromAddr, "777")
	}
}

func TestTranslateInboundCallbackQuery(t *testing.T) {
	update, err := ParseUpdate([]byte(`{
		"update_id": 14,
		"callback_query": {
			"id": "cb9",
			"from": {"id": 55, "first_name": "Carol", "username": "carol"},
			"chat_instance": "ci",
			"data": "button:confirm"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	msg, ok := newTestTranslator().TranslateInbound(update)
	if !ok {
		t.Fatal("expected callback query to translate")
	}

	if msg.Content != "button:confirm" {
		t.Fatalf("content = %q, want callback data", msg.Content)
	}
	if got := msg.MetadataType(); got != TypeCallbackQuery {
		t.Fatalf("metadata type = %q, want %q", got, TypeCallbackQuery)
	}
	if got := msg.MetadataDetails()["callback_query_id"]; got != "cb9" {
		t.Fatalf("callback_query_id = %v, want %q", got, "cb9")
	}
}

func TestTranslateOutboundRoundTripPreservesContent(t *testing.T) {
	translator := newTestTranslator()

	update, err := ParseUpdate([]byte(`{
		"update_id": 20,
		"message": {
			"message_id": 4,
			"from": {"id": 4242, "first_name": "Dana", "username": "dana"},
			"chat": {"id": 4242, "type": "private"},
			"text": "ping"
		}
	}`))
	if err != nil {
		t.Fatalf("ParseUpdate error: %v", err)
	}

	inbound, ok := translator.TranslateInbound(update)
	if !ok {
		t.Fatal("expected message to translate")
	}

	reply := message.TransportMessage{
		MessageID: message.NewID(),
		Content:   inbound.Content,
		ToAddr:    inbound.FromAddr,
		FromAddr:  inbound.ToAddr,
		InReplyTo: inbound.MessageID,
	}

	calls, err := translator.TranslateOutbound(reply, &inbound)
	if err != nil {
		t.Fatalf("TranslateOutbound error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Method != MethodSendMessage {
		t.Fatalf("method = %q, want %q", calls[0].Method, MethodSendMessage)
	}
	if calls[0].Params["text"] != "ping" {
		t.Fatalf("text = %v, want %q", calls[0].Params["text"], "ping")
	}
	if calls[0].Params["chat_id"] != "4242" {
		t.Fatalf("chat_id = %v, want %q", calls[0].Params["chat_id"], "4242")
	}
}

func TestTranslateOutboundSendOptionsPassThrough(t *testing.T) {
	markup := map[string]any{
		"inline_keyboard": []any{[]any{map[string]any{"text": "Yes", "callback_data": "yes"}}},
	}
	msg := message.TransportMessage{
		MessageID: message.NewID(),
		Content:   "choose",
		ToAddr:    "99",
	}
	msg.SetTelegramMetadata(map[string]any{
		"parse_mode":   "Markdown",
		"reply_markup": markup,
		"unrelated":    "dropped",
	})

	calls, err := newTestTranslator().TranslateOutbound(msg, nil)
	if err != nil {
		t.Fatalf("TranslateOutbound error: %v", err)
	}
	params := calls[0].Params
	if params["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode = %v, want Markdown", params["parse_mode"])
	}
	if _, ok := params["reply_markup"]; !ok {
		t.Fatal("expected reply_markup to pass through")
	}
	if _, ok := params["unrelated"]; ok {
		t.Fatal("expected non-whitelisted key to be dropped")
	}
}

func TestTranslateOutboundLocationAttachment(t *testing.T) {
	msg := message.TransportMessage{MessageID: message.NewID(), ToAddr: "31"}
	msg.SetTelegramMetadata(map[string]any{
		"attachment": map[string]any{
			"type":      "location",
			"latitude":  1.0,
			"longitude": 2.0,
		},
	})

	calls, err := newTestTranslator().TranslateOutbound(msg, nil)
	if err != nil {
		t.Fatalf("TranslateOutbound error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Method != "sendLocation" {
		t.Fatalf("method = %q, want sendLocation", calls[0].Method)
	}
	if calls[0].Params["latitude"] != 1.0 || calls[0].Params["longitude"] != 2.0 {
		t.Fatalf("coordinates = %v/%v, want 1/2", calls[0].Params["latitude"], calls[0].Params["longitude"])
	}
	if _, ok := calls[0].Params["type"]; ok {
		t.Fatal("type key must not leak into call params")
	}
}

func TestTranslateOutboundUnsupportedAttachment(t *testing.T) {
	msg := message.TransportMessage{MessageID: message.NewID(), ToAddr: "31"}
	msg.SetTelegramMetadata(map[string]any{
		"attachment": map[string]any{"type": "sticker"},
	})

	calls, err := newTestTranslator().TranslateOutbound(msg, nil)
	if !errors.Is(err, ErrUnsupportedAttachmentType) {
		t.Fatalf("error = %v, want ErrUnsupportedAttachmentType", err)
	}
	if calls != nil {
		t.Fatalf("got %d calls, want none", len(calls))
	}
}

func TestTranslateOutboundInlineQueryReply(t *testing.T) {
	original := message.TransportMessage{MessageID: "orig-1"}
	original.SetTelegramMetadata(map[string]any{
		"type":    TypeInlineQuery,
		"details": map[string]any{"inline_query_id": "q1"},
	})

	results := []any{map[string]any{"type": "article", "id": "1", "title": "Pizza"}}
	reply := message.TransportMessage{MessageID: message.NewID(), InReplyTo: "orig-1"}
	reply.SetTelegramMetadata(map[string]any{
		"type":    TypeInlineQueryReply,
		"results": results,
	})

	calls, err := newTestTranslator().TranslateOutbound(reply, &original)
	if err != nil {
		t.Fatalf("TranslateOutbound error: %v", err)
	}
	if calls[0].Method != MethodAnswerInlineQuery {
		t.Fatalf("method = %q, want %q", calls[0].Method, MethodAnswerInlineQuery)
	}
	if calls[0].Params["inline_query_id"] != "q1" {
		t.Fatalf("inline_query_id = %v, want q1", calls[0].Params["inline_query_id"])
	}
	if _, ok := calls[0].Params["results"]; !ok {
		t.Fatal("expected results to be forwarded")
	}
}

func TestTranslateOutboundCallbackReplyMergesDetails(t *testing.T) {
	original := message.TransportMessage{MessageID: "orig-2"}
	original.SetTelegramMetadata(map[string]any{
		"type":    TypeCallbackQuery,
		"details": map[string]any{"callback_query_id": "cb1"},
	})

	reply := message.TransportMessage{MessageID: message.NewID(), InReplyTo: "orig-2"}
	reply.SetTelegramMetadata(map[string]any{
		"type":    TypeCallbackQueryReply,
		"details": map[string]any{"text": "Done!", "show_alert": true},
	})

	calls, err := newTestTranslator().TranslateOutbound(reply, &original)
	if err != nil {
		t.Fatalf("TranslateOutbound error: %v", err)
	}
	params := calls[0].Params
	if params["callback_query_id"] != "cb1" {
		t.Fatalf("callback_query_id = %v, want cb1", params["callback_query_id"])
	}
	if params["text"] != "Done!" || params["show_alert"] != true {
		t.Fatalf("details not merged: %v", params)
	}
}

func TestTranslateOutboundMissingQueryContext(t *testing.T) {
	reply := message.TransportMessage{MessageID: message.NewID()}
	reply.SetTelegramMetadata(map[string]any{"type": TypeCallbackQueryReply})

	calls, err := newTestTranslator().TranslateOutbound(reply, nil)
	if !errors.Is(err, ErrMissingQueryContext) {
		t.Fatalf("error = %v, want ErrMissingQueryContext", err)
	}
	if calls != nil {
		t.Fatal("expected no calls without query context")
	}

	// The same applies to inline query replies.
	reply.SetTelegramMetadata(map[string]any{"type": TypeInlineQueryReply})
	if _, err := newTestTranslator().TranslateOutbound(reply, nil); !errors.Is(err, ErrMissingQueryContext) {
		t.Fatalf("inline reply error = %v, want ErrMissingQueryContext", err)
	}
}
