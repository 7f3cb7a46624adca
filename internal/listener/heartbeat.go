package listener

import (
	"context"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/events"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// HeartbeatMonitor polls a Listener's latest-message timestamp and emits a
// single warning event after a silence threshold, followed by one
// recovery event once messages resume.
type HeartbeatMonitor struct {
	Listener *Listener
	Bus      events.Bus
	Log      logging.Logger

	PollInterval time.Duration
	Threshold    time.Duration
}

// NewHeartbeatMonitor returns a monitor with the default 5s poll
// interval and 60s silence threshold.
func NewHeartbeatMonitor(l *Listener, bus events.Bus, log logging.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		Listener:     l,
		Bus:          bus,
		Log:          log,
		PollInterval: 5 * time.Second,
		Threshold:    60 * time.Second,
	}
}

// Run polls until ctx is canceled.
func (h *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	var silenceStarted time.Time
	warned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := h.Listener.LatestMessageTime()
			if last.IsZero() {
				continue
			}
			silence := time.Since(last)
			if silence > h.Threshold {
				if !warned {
					silenceStarted = time.Now()
					warned = true
					h.Log.WarnCtx(ctx, "listener silent beyond threshold", "silence", silence)
					h.Bus.Publish(events.Event{
						Category: events.CategoryHeartbeat, Type: "timeout", Severity: "warn",
						Message: "listener has been silent beyond the heartbeat threshold",
						Fields:  map[string]any{"silence_seconds": silence.Seconds()},
					})
				}
			} else if warned {
				downFor := time.Since(silenceStarted)
				warned = false
				h.Log.InfoCtx(ctx, "listener recovered", "down_for", downFor)
				h.Bus.Publish(events.Event{
					Category: events.CategoryHeartbeat, Type: "restored", Severity: "info",
					Message: "listener restored after silence",
					Fields:  map[string]any{"down_for_seconds": downFor.Seconds()},
				})
			}
		}
	}
}
