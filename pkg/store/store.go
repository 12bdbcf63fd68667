// Package store provides the deduplication and reply-context stores backing
// the webhook pipeline: Redis in production, an in-memory variant for tests
// and single-process runs.
package store

import (
	"context"
	"time"

	"github.com/praekeltfoundation/vumi-telegram/pkg/message"
)

// DefaultTTL bounds how long an update id suppresses reprocessing and how long
// query context stays resolvable. A resend after expiry is treated as new.
const DefaultTTL = 10 * time.Minute

// DedupStore tracks platform update ids already forwarded to the bus.
//
// CheckAndMark must be a single atomic operation: two concurrent calls with
// the same id must not both observe "new". A store error means the caller
// cannot know whether the id was seen and must reject the request.
type DedupStore interface {
	// CheckAndMark records updateID as seen and reports whether it already was.
	CheckAndMark(ctx context.Context, updateID string) (seen bool, err error)

	// Unmark removes the record for updateID so a later redelivery is treated
	// as new. Called when the publish that followed a fresh mark was refused.
	Unmark(ctx context.Context, updateID string) error

	// Seen returns the first-sight timestamp for updateID, when still recorded.
	Seen(ctx context.Context, updateID string) (time.Time, bool, error)
}

// ReplyContextStore retains inbound query envelopes so outbound replies can
// recover the originating query id through their in_reply_to reference.
type ReplyContextStore interface {
	Save(ctx context.Context, msg message.TransportMessage) error

	// Load returns the stored envelope, or nil when none is recorded.
	Load(ctx context.Context, messageID string) (*message.TransportMessage, error)
}

func dedupKey(updateID string) string {
	return "telegram:update:" + updateID
}

func replyKey(messageID string) string {
	return "telegram:reply:" + messageID
}
