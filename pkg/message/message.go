// Package message defines the normalized envelope exchanged over the message
// bus between the Telegram transport and the consuming application.
package message

import (
	"time"

	"github.com/google/uuid"
)

// MetadataKey namespaces all Telegram-specific metadata inside an envelope.
const MetadataKey = "telegram"

// Event types reported back on the bus for outbound messages.
const (
	EventAck  = "ack"
	EventNack = "nack"
)

// TransportMessage is the vendor-neutral envelope for one message crossing the
// transport boundary in either direction.
//
// FromAddr is the platform's stable machine key for the sender (the Telegram
// numeric id, stringified). Human-readable names travel in TransportMetadata,
// never as the address.
type TransportMessage struct {
	MessageID         string         `json:"message_id"`
	Timestamp         time.Time      `json:"timestamp"`
	TransportName     string         `json:"transport_name"`
	TransportType     string         `json:"transport_type"`
	Content           string         `json:"content"`
	ToAddr            string         `json:"to_addr"`
	FromAddr          string         `json:"from_addr"`
	InReplyTo         string         `json:"in_reply_to,omitempty"`
	TransportMetadata map[string]any `json:"transport_metadata,omitempty"`
}

// NewID returns a fresh envelope identifier.
func NewID() string {
	return uuid.NewString()
}

// TelegramMetadata returns the Telegram-namespaced metadata map, or nil when
// the envelope carries none. The returned map is not copied.
func (m TransportMessage) TelegramMetadata() map[string]any {
	if m.TransportMetadata == nil {
		return nil
	}

	md, _ := m.TransportMetadata[MetadataKey].(map[string]any)
	return md
}

// SetTelegramMetadata stores md under the Telegram namespace.
func (m *TransportMessage) SetTelegramMetadata(md map[string]any) {
	if len(md) == 0 {
		return
	}
	if m.TransportMetadata == nil {
		m.TransportMetadata = make(map[string]any, 1)
	}
	m.TransportMetadata[MetadataKey] = md
}

// MetadataType returns the Telegram message-type tag ("inline_query",
// "callback_query_reply", ...) or "" for a plain message.
func (m TransportMessage) MetadataType() string {
	value, _ := m.TelegramMetadata()["type"].(string)
	return value
}

// MetadataDetails returns the free-form details sub-map of the Telegram
// metadata, or nil when absent.
func (m TransportMessage) MetadataDetails() map[string]any {
	details, _ := m.TelegramMetadata()["details"].(map[string]any)
	return details
}

// TransportEvent reports the delivery outcome of one outbound envelope.
type TransportEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	TransportName string    `json:"transport_name"`
	UserMessageID string    `json:"user_message_id"`
	SentMessageID string    `json:"sent_message_id,omitempty"`
	NackReason    string    `json:"nack_reason,omitempty"`
}

// NewAck builds a successful-delivery event for msg.
func NewAck(msg TransportMessage) TransportEvent {
	return TransportEvent{
		EventID:       NewID(),
		EventType:     EventAck,
		Timestamp:     time.Now().UTC(),
		TransportName: msg.TransportName,
		UserMessageID: msg.MessageID,
		SentMessageID: msg.MessageID,
	}
}

// NewNack builds a failed-delivery event for msg with a diagnostic reason.
func NewNack(msg TransportMessage, reason string) TransportEvent {
	return TransportEvent{
		EventID:       NewID(),
		EventType:     EventNack,
		Timestamp:     time.Now().UTC(),
		TransportName: msg.TransportName,
		UserMessageID: msg.MessageID,
		NackReason:    reason,
	}
}
