package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// APIPoster is the minimal transport seam for posting a composed Slack
// message; a real deployment supplies one backed by
// *slack.Client.PostMessage.
type APIPoster interface {
	PostMessage(ctx context.Context, channel string, options ...slack.MsgOption) (respChannel, ts string, err error)
}

// SlackSender renders messages into slack-go's attachment types and
// hands the result to an APIPoster.
type SlackSender struct {
	Poster APIPoster
}

func (s *SlackSender) Send(ctx context.Context, msg Message) (string, error) {
	attachments := make([]slack.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		att := slack.Attachment{Title: a.Title, Text: a.Text}
		if a.ImagePlaceholder != "" {
			att.ImageURL = a.ImagePlaceholder
		}
		attachments = append(attachments, att)
	}

	options := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionAttachments(attachments...),
	}

	_, ts, err := s.Poster.PostMessage(ctx, msg.Channel, options...)
	if err != nil {
		return "", fmt.Errorf("notify: slack post failed: %w", err)
	}
	return fmt.Sprintf("https://slack.com/archives/%s/p%s", msg.Channel, ts), nil
}
