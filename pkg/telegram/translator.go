// Package telegram implements the pure bidirectional translation between
// Telegram updates and the normalized transport envelope, plus the API call
// descriptors the outbound dispatcher executes.
package telegram

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// TransportType tags every envelope produced by this transport.
const TransportType = "telegram"

// Metadata type tags understood by the translator.
const (
	TypeInlineQuery        = "inline_query"
	TypeCallbackQuery      = "callback_query"
	TypeInlineQueryReply   = "inline_query_reply"
	TypeCallbackQueryReply = "callback_query_reply"
)

// Telegram Bot API method names the translator emits.
const (
	MethodSendMessage         = "sendMessage"
	MethodAnswerInlineQuery   = "answerInlineQuery"
	MethodAnswerCallbackQuery = "answerCallbackQuery"
	MethodSetWebhook          = "setWebhook"
	MethodDeleteWebhook       = "deleteWebhook"
)

// attachmentMethods maps attachment types to their send endpoints. Anything
// else fails with ErrUnsupportedAttachmentType.
var attachmentMethods = map[string]string{
	"photo":    "sendPhoto",
	"document": "sendDocument",
	"contact":  "sendContact",
	"location": "sendLocation",
	"venue":    "sendVenue",
}

// sendOptionKeys are the metadata keys forwarded verbatim onto a sendMessage
// call. Their values are opaque to the transport; Telegram validates them.
var sendOptionKeys = []string{
	"parse_mode",
	"disable_web_page_preview",
	"disable_notification",
	"protect_content",
	"reply_to_message_id",
	"reply_markup",
}

// APICall describes one Telegram Bot API invocation: the method name and its
// JSON body parameters.
type APICall struct {
	Method string
	Params map[string]any
}

// Translator converts between Telegram updates and transport envelopes. All
// methods are pure; no I/O is performed.
type Translator struct {
	botUsername   string
	transportName string
}

// NewTranslator builds a translator addressing inbound messages to botUsername.
func NewTranslator(botUsername, transportName string) *Translator {
	return &Translator{
		botUsername:   botUsername,
		transportName: transportName,
	}
}

// TranslateInbound converts one classified update into a transport envelope.
// The second return value is false for updates the transport ignores.
func (t *Translator) TranslateInbound(update telego.Update) (message.TransportMessage, bool) {
	switch Classify(update) {
	case UpdateMessage:
		return t.translateMessage(update.Message), true
	case UpdateInlineQuery:
		return t.translateInlineQuery(update.InlineQuery), true
	case UpdateCallbackQuery:
		return t.translateCallbackQuery(update.CallbackQuery), true
	default:
		return message.TransportMessage{}, false
	}
}

func (t *Translator) translateMessage(msg *telego.Message) message.TransportMessage {
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	// Channel posts carry no sender; the chat id is the reply address then.
	fromAddr := strconv.FormatInt(msg.Chat.ID, 10)
	md := make(map[string]any)
	if msg.From != nil {
		fromAddr = strconv.FormatInt(msg.From.ID, 10)
		if name := senderName(msg.From.Username, msg.From.FirstName); name != "" {
			md["telegram_username"] = name
		}
	}

	out := t.newEnvelope(content, fromAddr)
	out.SetTelegramMetadata(md)
	return out
}

func (t *Translator) translateInlineQuery(query *telego.InlineQuery) message.TransportMessage {
	out := t.newEnvelope(query.Query, strconv.FormatInt(query.From.ID, 10))
	md := map[string]any{
		"type": TypeInlineQuery,
		"details": map[string]any{
			"inline_query_id": query.ID,
		},
	}
	if name := senderName(query.From.Username, query.From.FirstName); name != "" {
		md["telegram_username"] = name
	}
	out.SetTelegramMetadata(md)
	return out
}

func (t *Translator) translateCallbackQuery(query *telego.CallbackQuery) message.TransportMessage {
	out := t.newEnvelope(query.Data, strconv.FormatInt(query.From.ID, 10))
	md := map[string]any{
		"type": TypeCallbackQuery,
		"details": map[string]any{
			"callback_query_id": query.ID,
		},
	}
	if name := senderName(query.From.Username, query.From.FirstName); name != "" {
		md["telegram_username"] = name
	}
	out.SetTelegramMetadata(md)
	return out
}

func (t *Translator) newEnvelope(content, fromAddr string) message.TransportMessage {
	return message.TransportMessage{
		MessageID:     message.NewID(),
		Timestamp:     time.Now().UTC(),
		TransportName: t.transportName,
		TransportType: TransportType,
		Content:       content,
		ToAddr:        t.botUsername,
		FromAddr:      fromAddr,
	}
}

// TranslateOutbound converts one outbound envelope into an ordered list of API
// calls. original is the inbound envelope referenced by msg.InReplyTo when the
// caller could resolve it; it supplies query ids for inline and callback
// replies that do not carry their own.
func (t *Translator) TranslateOutbound(msg message.TransportMessage, original *message.TransportMessage) ([]APICall, error) {
	md := msg.TelegramMetadata()

	switch msg.MetadataType() {
	case TypeInlineQueryReply:
		return t.inlineQueryAnswer(msg, original)
	case TypeCallbackQueryReply:
		return t.callbackQueryAnswer(msg, original)
	}

	if attachment, ok := md["attachment"].(map[string]any); ok {
		return t.attachmentSend(msg, attachment)
	}

	params := map[string]any{
		"chat_id": msg.ToAddr,
		"text":    msg.Content,
	}
	for _, key := range sendOptionKeys {
		if value, ok := md[key]; ok {
			params[key] = value
		}
	}

	return []APICall{{Method: MethodSendMessage, Params: params}}, nil
}

func (t *Translator) inlineQueryAnswer(msg message.TransportMessage, original *message.TransportMessage) ([]APICall, error) {
	queryID := queryContext(msg, original, "inline_query_id")
	if queryID == "" {
		return nil, fmt.Errorf("%w: no inline query id for message %s", ErrMissingQueryContext, msg.MessageID)
	}

	params := map[string]any{"inline_query_id": queryID}
	if results, ok := msg.TelegramMetadata()["results"]; ok {
		params["results"] = results
	}

	return []APICall{{Method: MethodAnswerInlineQuery, Params: params}}, nil
}

func (t *Translator) callbackQueryAnswer(msg message.TransportMessage, original *message.TransportMessage) ([]APICall, error) {
	queryID := queryContext(msg, original, "callback_query_id")
	if queryID == "" {
		return nil, fmt.Errorf("%w: no callback query id for message %s", ErrMissingQueryContext, msg.MessageID)
	}

	params := make(map[string]any)
	for key, value := range msg.MetadataDetails() {
		params[key] = value
	}
	params["callback_query_id"] = queryID

	return []APICall{{Method: MethodAnswerCallbackQuery, Params: params}}, nil
}

func (t *Translator) attachmentSend(msg message.TransportMessage, attachment map[string]any) ([]APICall, error) {
	attachmentType, _ := attachment["type"].(string)
	method, ok := attachmentMethods[attachmentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAttachmentType, attachmentType)
	}

	params := map[string]any{"chat_id": msg.ToAddr}
	for key, value := range attachment {
		if key == "type" {
			continue
		}
		params[key] = value
	}

	return []APICall{{Method: method, Params: params}}, nil
}

// queryContext resolves a query id from the reply's own details first, then
// from the original inbound envelope.
func queryContext(msg message.TransportMessage, original *message.TransportMessage, key string) string {
	if id, ok := msg.MetadataDetails()[key].(string); ok && id != "" {
		return id
	}
	if original != nil {
		if id, ok := original.MetadataDetails()[key].(string); ok && id != "" {
			return id
		}
	}

	return ""
}

// senderName picks the display name carried in metadata: the Telegram username
// when set, the first name otherwise.
func senderName(username, firstName string) string {
	if username != "" {
		return username
	}

	return firstName
}
