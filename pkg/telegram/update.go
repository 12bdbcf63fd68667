package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
)

// UpdateKind classifies one Telegram update into the variants the transport
// multiplexes through the normalized pipeline.
type UpdateKind int

const (
	// UpdateUnsupported covers updates the transport acknowledges but does not
	// forward: no message object, or a message with neither text nor caption.
	UpdateUnsupported UpdateKind = iota
	UpdateMessage
	UpdateInlineQuery
	UpdateCallbackQuery
)

// String returns the variant name used in logs.
func (k UpdateKind) String() string {
	switch k {
	case UpdateMessage:
		return "message"
	case UpdateInlineQuery:
		return "inline_query"
	case UpdateCallbackQuery:
		return "callback_query"
	default:
		return "unsupported"
	}
}

// ParseUpdate decodes one raw webhook body into a Telegram update.
func ParseUpdate(body []byte) (telego.Update, error) {
	var update telego.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return telego.Update{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	return update, nil
}

// Classify determines the update variant. Inline queries and callback queries
// take precedence over the message field, matching Telegram's delivery model
// where an update carries exactly one of them.
func Classify(update telego.Update) UpdateKind {
	switch {
	case update.InlineQuery != nil:
		return UpdateInlineQuery
	case update.CallbackQuery != nil:
		return UpdateCallbackQuery
	case update.Message != nil:
		if update.Message.Text == "" && update.Message.Caption == "" {
			return UpdateUnsupported
		}
		return UpdateMessage
	default:
		return UpdateUnsupported
	}
}

// UpdateID returns the platform-assigned update identifier as the string key
// used by the deduplication store.
func UpdateID(update telego.Update) string {
	return strconv.Itoa(update.UpdateID)
}
