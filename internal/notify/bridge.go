package notify

import (
	"context"
	"fmt"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/events"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// Reporter subscribes to the telemetry event bus and renders the events
// worth surfacing (errors, heartbeat transitions, follow-up timeouts) as
// outbound messages. It keeps the components that detect a condition
// decoupled from the one that phrases it for humans.
type Reporter struct {
	Bus     events.Bus
	Sender  Sender
	Channel string
	Log     logging.Logger
}

// Run drains the bus until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) error {
	sub, err := r.Bus.Subscribe(64)
	if err != nil {
		return fmt.Errorf("notify: subscribing to event bus: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			msg, send := r.render(ev)
			if !send {
				continue
			}
			if _, err := r.Sender.Send(ctx, msg); err != nil {
				r.Log.WarnCtx(ctx, "event notification send failed", "category", ev.Category, "type", ev.Type, "error", err)
			}
		}
	}
}

func (r *Reporter) render(ev events.Event) (Message, bool) {
	switch {
	case ev.Category == events.CategoryHeartbeat && ev.Type == "timeout":
		text := fmt.Sprintf("WARNING in listener (\"HeartbeatTimeout: no messages for %.0f s\")", floatField(ev, "silence_seconds"))
		return Message{Channel: r.Channel, Text: text}, true
	case ev.Category == events.CategoryHeartbeat && ev.Type == "restored":
		text := fmt.Sprintf("Listener restored after %.0f s of silence", floatField(ev, "down_for_seconds"))
		return Message{Channel: r.Channel, Text: text}, true
	case ev.Category == events.CategoryFollowup && ev.Type == "timeout":
		text := fmt.Sprintf("WARNING in followup (\"SkymapUnavailable: gave up waiting for %v\")", ev.Fields["ivorn"])
		return Message{Channel: r.Channel, Text: text}, true
	case ev.Type == "error" || ev.Severity == "error":
		detail := ev.Message
		if detail == "" {
			detail = fmt.Sprint(ev.Fields["error"])
		}
		text := fmt.Sprintf("ERROR in %s (%q)", ev.Category, detail)
		return Message{Channel: r.Channel, Text: text}, true
	default:
		return Message{}, false
	}
}

func floatField(ev events.Event, key string) float64 {
	f, _ := ev.Fields[key].(float64)
	return f
}
