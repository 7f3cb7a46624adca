package notify

import (
	"context"
	"fmt"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// LogSender is a reference Sender that writes messages through the
// structured logger instead of an external service; used in tests and
// local runs where Slack is disabled.
type LogSender struct {
	Log logging.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	s.Log.InfoCtx(ctx, "notification", "channel", msg.Channel, "text", msg.Text, "attachments", len(msg.Attachments))
	return "", nil
}

// MultiSender fans a single Send out to every configured Sender,
// returning the first link produced (if any) and the first error
// encountered, without aborting the remaining sends.
type MultiSender struct {
	Senders []Sender
}

func (m *MultiSender) Send(ctx context.Context, msg Message) (string, error) {
	var link string
	var firstErr error
	for _, s := range m.Senders {
		l, err := s.Send(ctx, msg)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify: sender failed: %w", err)
			continue
		}
		if link == "" {
			link = l
		}
	}
	return link, firstErr
}
