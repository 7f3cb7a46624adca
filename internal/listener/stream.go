package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// AuthMechanism selects the SASL mechanism used to authenticate to the
// broker.
type AuthMechanism string

const (
	AuthPLAIN       AuthMechanism = "PLAIN"
	AuthOAUTHBEARER AuthMechanism = "OAUTHBEARER"
)

// Topic is a static topic the stream source subscribes to.
type Topic struct {
	Name        string
	IsHeartbeat bool
}

// StreamConfig configures the Kafka-style broker connection.
type StreamConfig struct {
	Broker   string
	Mechanism AuthMechanism
	User     string
	Password string

	// OAuthTokenURL, OAuthClientID and OAuthClientSecret configure the
	// client-credentials token endpoint used when Mechanism is
	// AuthOAUTHBEARER.
	OAuthTokenURL    string
	OAuthClientID    string
	OAuthClientSecret string

	GroupID string
	Topics  []Topic

	// Backdate, when set, starts consumption at EARLIEST instead of
	// LATEST. The heartbeat topic is fast-forwarded to its current end
	// offset first, so a new consumer group doesn't replay weeks of
	// heartbeats.
	Backdate bool
}

// StreamSource is a MessageSource backed by a SASL-authenticated
// Kafka-style broker.
type StreamSource struct {
	cfg StreamConfig
	log logging.Logger
}

// NewStreamSource returns a StreamSource for cfg.
func NewStreamSource(cfg StreamConfig, log logging.Logger) *StreamSource {
	return &StreamSource{cfg: cfg, log: log}
}

func (s *StreamSource) dialer() *kafka.Dialer {
	var mech sasl.Mechanism
	switch s.cfg.Mechanism {
	case AuthOAUTHBEARER:
		mech = &oauthBearerMechanism{
			tokenURL:     s.cfg.OAuthTokenURL,
			clientID:     s.cfg.OAuthClientID,
			clientSecret: s.cfg.OAuthClientSecret,
		}
	default:
		if s.cfg.User != "" {
			mech = plain.Mechanism{Username: s.cfg.User, Password: s.cfg.Password}
		}
	}
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: mech,
	}
}

func (s *StreamSource) startOffset() int64 {
	if s.cfg.Backdate {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

// Run subscribes to every configured topic concurrently, invoking handle
// for each non-heartbeat message body, until ctx is canceled. Each
// topic's reader reconnects with a capped backoff on error.
func (s *StreamSource) Run(ctx context.Context, handle func([]byte), heartbeat func()) error {
	if s.cfg.Backdate {
		if err := s.fastForwardHeartbeat(ctx); err != nil {
			s.log.WarnCtx(ctx, "failed to fast-forward heartbeat topic before backdate", "error", err)
		}
	}

	errs := make(chan error, len(s.cfg.Topics))
	for _, topic := range s.cfg.Topics {
		topic := topic
		go func() {
			errs <- s.consumeTopic(ctx, topic, handle, heartbeat)
		}()
	}

	var firstErr error
	for range s.cfg.Topics {
		if err := <-errs; err != nil && firstErr == nil && ctx.Err() == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *StreamSource) fastForwardHeartbeat(ctx context.Context) error {
	for _, topic := range s.cfg.Topics {
		if !topic.IsHeartbeat {
			continue
		}
		conn, err := s.dialer().DialLeader(ctx, "tcp", s.cfg.Broker, topic.Name, 0)
		if err != nil {
			return fmt.Errorf("dial heartbeat topic %s: %w", topic.Name, err)
		}
		_, err = conn.ReadLastOffset()
		conn.Close()
		if err != nil {
			return fmt.Errorf("read last offset for %s: %w", topic.Name, err)
		}
	}
	return nil
}

func (s *StreamSource) consumeTopic(ctx context.Context, topic Topic, handle func([]byte), heartbeat func()) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		startOffset := s.startOffset()
		if topic.IsHeartbeat {
			// The heartbeat topic always starts at its latest offset, so a
			// backdated consumer group does not replay old heartbeats.
			startOffset = kafka.LastOffset
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{s.cfg.Broker},
			Topic:       topic.Name,
			GroupID:     s.cfg.GroupID,
			Dialer:      s.dialer(),
			StartOffset: startOffset,
			MinBytes:    1,
			MaxBytes:    10 << 20,
		})

		err := s.readLoop(ctx, reader, topic, handle, heartbeat)
		reader.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.WarnCtx(ctx, "stream reader disconnected, reconnecting", "topic", topic.Name, "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *StreamSource) readLoop(ctx context.Context, reader *kafka.Reader, topic Topic, handle func([]byte), heartbeat func()) error {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return err
			}
			return err
		}
		if topic.IsHeartbeat {
			heartbeat()
			continue
		}
		handle(msg.Value)
	}
}

// StandardTopics returns the static subscription list: one topic per
// alert source plus the broker's heartbeat topic.
func StandardTopics(prefix string) []Topic {
	names := []string{"gw", "fermi", "swift", "gecam", "einstein_probe", "icecube"}
	topics := make([]Topic, 0, len(names)+1)
	for _, n := range names {
		topics = append(topics, Topic{Name: joinTopic(prefix, n)})
	}
	topics = append(topics, Topic{Name: joinTopic(prefix, "heartbeat"), IsHeartbeat: true})
	return topics
}

func joinTopic(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, ".") + "." + name
}
