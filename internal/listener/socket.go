package listener

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// SocketConfig configures the legacy VOEvent Transport Protocol listener.
type SocketConfig struct {
	// Addresses is the set of host:port pairs cycled through on
	// reconnect.
	Addresses []string
	// Keepalive is the read deadline between frames; the VOEvent TP
	// protocol sends periodic keepalive packets to hold it open.
	Keepalive time.Duration
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
}

// SocketSource is a MessageSource backed by the VOEvent Transport
// Protocol: length-prefixed XML packets over a persistent TCP connection.
type SocketSource struct {
	cfg SocketConfig
	log logging.Logger
}

// NewSocketSource returns a SocketSource for cfg, defaulting Keepalive to
// 90s and MaxBackoff to 8s if unset.
func NewSocketSource(cfg SocketConfig, log logging.Logger) *SocketSource {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 90 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	return &SocketSource{cfg: cfg, log: log}
}

// Run cycles through the configured addresses, reconnecting with capped
// backoff, until ctx is canceled.
func (s *SocketSource) Run(ctx context.Context, handle func([]byte), heartbeat func()) error {
	if len(s.cfg.Addresses) == 0 {
		return fmt.Errorf("socket listener: no addresses configured")
	}

	backoff := time.Second
	addrIdx := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		addr := s.cfg.Addresses[addrIdx%len(s.cfg.Addresses)]
		addrIdx++

		err := s.connectAndServe(ctx, addr, handle, heartbeat)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.WarnCtx(ctx, "voevent socket disconnected, reconnecting", "address", addr, "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *SocketSource) connectAndServe(ctx context.Context, addr string, handle func([]byte), heartbeat func()) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	s.log.InfoCtx(ctx, "voevent socket connected", "address", addr)
	r := bufio.NewReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Keepalive)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		packet, isKeepalive, err := readVOEventPacket(r)
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("connection closed by peer")
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if isKeepalive {
			heartbeat()
			continue
		}
		handle(packet)
	}
}

// readVOEventPacket reads one VOEvent Transport Protocol frame: a 4-byte
// big-endian length prefix followed by that many bytes of XML. A
// zero-length frame is the protocol's keepalive handshake.
func readVOEventPacket(r *bufio.Reader) (packet []byte, isKeepalive bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, true, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, err
	}
	return buf, false, nil
}
