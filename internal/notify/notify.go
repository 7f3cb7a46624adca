// Package notify composes and sends the sentinel's outbound notifications.
// Message composition lives here; delivery goes through the Sender
// interface, which a real deployment wires to an actual Slack client.
package notify

import "context"

// Message is a composed outbound notification.
type Message struct {
	Channel     string
	Text        string
	Attachments []Attachment
}

// Attachment mirrors the small subset of Slack's attachment model the
// composer uses: a title, body text, and (for skymap plots) an image
// reference. Image bytes are never generated by this package; the
// plotting layer resolves ImagePlaceholder into a rendered file.
type Attachment struct {
	Title            string
	Text             string
	ImagePlaceholder string
}

// Sender delivers a composed Message, optionally returning a permalink
// that can be used to cross-post or thread a follow-up.
type Sender interface {
	Send(ctx context.Context, msg Message) (link string, err error)
}
