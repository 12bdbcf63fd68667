package telegram

import "errors"

var (
	// ErrMalformedUpdate marks an inbound payload that does not parse as a
	// Telegram update.
	ErrMalformedUpdate = errors.New("malformed update")

	// ErrUnsupportedAttachmentType marks an outbound attachment whose type is
	// not one of photo, document, contact, location or venue.
	ErrUnsupportedAttachmentType = errors.New("unsupported attachment type")

	// ErrMissingQueryContext marks an inline or callback query reply for which
	// no originating query id could be recovered.
	ErrMissingQueryContext = errors.New("missing query context")
)
