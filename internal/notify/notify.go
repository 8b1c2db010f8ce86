// Package notify posts dispatch and retry pass summaries to chat platforms.
package notify

import "context"

// Notifier delivers a message to a chat platform.
type Notifier interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a message to post.
type OutboundMessage struct {
	ChannelID string           // target channel; empty means the adapter default
	Text      string           // plain text, also the fallback for Events
	Events    []FormattedEvent // structured attachments
}

// FormattedEvent is one structured block of a message.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error", "success"
	Color    string // sidebar color hint, e.g. "#36a64f"
	Fields   []Field
}

// Field is a key-value pair displayed in an event.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Noop discards messages. Used when no platform is configured.
type Noop struct{}

// Send does nothing.
func (Noop) Send(context.Context, OutboundMessage) error { return nil }
