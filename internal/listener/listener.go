// Package listener ingests raw alert payloads from either a Kafka-style
// streaming broker or a legacy VOEvent socket, normalizes them into
// notice.Notice values, and feeds them to a bounded queue for the
// dispatcher. The listener is the sole producer to that queue and tracks
// a shared latest-message timestamp the heartbeat monitor polls.
package listener

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/classify"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/deserialize"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/notice"
	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// MessageSource abstracts the act of retrieving raw alert payloads,
// letting STREAM and SOCKET modes share the same dispatch loop.
type MessageSource interface {
	// Run blocks until ctx is canceled or an unrecoverable error occurs.
	// handle is called with each payload meant for classification and
	// enqueueing; heartbeat is called for traffic that only signals the
	// connection is alive (a STREAM heartbeat-topic message, a SOCKET
	// keepalive frame) and carries no payload. Both calls mark the
	// connection live for the heartbeat monitor; the timestamp is
	// recorded before the heartbeat-traffic discard. Run is responsible
	// for its own reconnect/backoff loop and must return promptly on
	// cancellation.
	Run(ctx context.Context, handle func([]byte), heartbeat func()) error
}

// Queue is the channel of classified notices the dispatcher drains. The
// buffer is large enough that upstream broker rate limits keep it from
// ever filling in practice; bounding it caps memory if a replay floods
// in.
type Queue chan *notice.Notice

// NewQueue returns a Queue with the given buffer capacity.
func NewQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = 4096
	}
	return make(Queue, capacity)
}

// Listener wires a MessageSource to a Queue, tracking the shared
// latest-message timestamp the heartbeat monitor reads.
type Listener struct {
	Source MessageSource
	Queue  Queue
	Log    logging.Logger

	latestMessageUnixNano atomic.Int64
}

// LatestMessageTime returns the last time any payload (including
// heartbeat-only traffic) was observed.
func (l *Listener) LatestMessageTime() time.Time {
	ns := l.latestMessageUnixNano.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run drives the source until ctx is canceled, deserializing and
// classifying each payload before enqueuing it. A payload that fails to
// deserialize is logged and dropped; its offset is still committed.
func (l *Listener) Run(ctx context.Context) error {
	touch := func() { l.latestMessageUnixNano.Store(time.Now().UnixNano()) }
	return l.Source.Run(ctx, func(raw []byte) {
		touch()

		msg, err := deserialize.Deserialize(raw)
		if err != nil {
			l.Log.WarnCtx(ctx, "dropping payload: deserialization failed", "error", err)
			return
		}
		n, err := classify.Build(msg)
		if err != nil {
			l.Log.WarnCtx(ctx, "notice classifier fell back to base Notice", "ivorn", n.IVORN, "error", err)
		}

		select {
		case l.Queue <- n:
		case <-ctx.Done():
		}
	}, touch)
}
