// Package transport defines the per-platform send contract used by the dispatcher.
//
// Each platform ships its own implementation (telegram, whatsapp, webbridge);
// the dispatcher picks one from a Registry keyed by domain.Platform.
package transport

import (
	"context"

	"promocast/internal/domain"
)

// Message is one outbound notification. ImageRef is either an http(s) URL or a
// local file path; when set, Text is sent as the caption.
type Message struct {
	Text      string
	ImageRef  string
	ParseMode string
}

// HasImage reports whether the image send path should be used.
func (m Message) HasImage() bool { return m.ImageRef != "" }

// Result is returned on a successful send.
type Result struct {
	MessageID string
}

// ChannelTransport delivers a message to one recipient identifier.
// Failures are returned as *Error.
type ChannelTransport interface {
	Platform() domain.Platform
	Send(ctx context.Context, recipient string, msg Message) (Result, error)
}
