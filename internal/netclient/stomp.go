package netclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

const (
	stompHeartbeatInterval = 5 * time.Second
	stompInactivityTimeout = 5 * time.Second
)

// STOMPClient connects, sends a CONNECT frame with a fixed heart-beat
// header, subscribes to a destination, and delivers each NUL-terminated
// frame to the caller while maintaining its own heartbeat and an
// inactivity timer that cancels the connection if the server goes quiet,
// grounded on the original's stomp_client.
type STOMPClient struct {
	conn net.Conn
	br   *bufio.Reader

	destination string

	// activity receives a non-blocking signal for every whitespace byte
	// readFrame discards between frames (the server's heartbeat bytes, which
	// never form a complete frame), so Subscribe's inactivity timer resets on
	// heartbeats as well as on complete frames. Left nil by tests that
	// construct a STOMPClient directly; signalActivity tolerates that.
	activity chan struct{}

	metrics *metrics.Metrics
	log     *slog.Logger
}

// DialSTOMP connects to host:port and returns a client ready for
// Subscribe.
func DialSTOMP(ctx context.Context, host, port string, tlsConfig *tls.Config, deadline time.Duration, m *metrics.Metrics, log *slog.Logger) (*STOMPClient, error) {
	if log == nil {
		log = logging.Nop()
	}

	conn, err := Connect(ctx, ConnectOptions{
		Host:      host,
		Port:      port,
		TLS:       tlsConfig != nil,
		TLSConfig: tlsConfig,
		Deadline:  deadline,
	}, m, "stomp", log)
	if err != nil {
		return nil, err
	}

	return &STOMPClient{
		conn:     conn,
		br:       bufio.NewReader(conn),
		activity: make(chan struct{}, 1),
		metrics:  m,
		log:      log,
	}, nil
}

// Subscribe sends the CONNECT and SUBSCRIBE frames, then blocks reading
// frames from destination until ctx is cancelled, the server falls
// silent for longer than the inactivity timeout, or a read error occurs.
// Each received frame (command line, headers and body as one string,
// whitespace-trimmed, NUL stripped) is passed to onMsg.
func (c *STOMPClient) Subscribe(ctx context.Context, destination string, onMsg func(frame string)) error {
	c.destination = destination

	connectCmd := "CONNECT\r\nlogin:a\r\npasscode:b\r\nheart-beat:5000,1000\r\n\r\n\x00"
	if _, err := c.conn.Write([]byte(connectCmd)); err != nil {
		return fmt.Errorf("stomp: write CONNECT: %w", err)
	}
	if _, err := c.readFrame(); err != nil {
		return fmt.Errorf("stomp: read CONNECTED: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.runHeartbeat(runCtx)

	subscribeCmd := fmt.Sprintf("SUBSCRIBE\r\ndestination:%s\r\nack:auto\r\n\r\n\x00", destination)
	if _, err := c.conn.Write([]byte(subscribeCmd)); err != nil {
		return fmt.Errorf("stomp: write SUBSCRIBE: %w", err)
	}

	inactivity := time.NewTimer(stompInactivityTimeout)
	defer inactivity.Stop()
	frameCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			frame, err := c.readFrame()
			if err != nil {
				errCh <- err
				return
			}
			if frame == "" {
				continue
			}
			frameCh <- frame
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case frame := <-frameCh:
			inactivity.Reset(stompInactivityTimeout)
			onMsg(frame)
		case <-c.activity:
			// Bytes arrived even though no complete frame did — a
			// server-side heartbeat counts as traffic per §4.9.
			inactivity.Reset(stompInactivityTimeout)
		case <-inactivity.C:
			c.conn.Close()
			return fmt.Errorf("stomp: server heartbeat timed out")
		}
	}
}

// runHeartbeat writes a NUL-terminated heartbeat every stompHeartbeatInterval
// until ctx is cancelled, matching the original's beat_cmd_ framing.
func (c *STOMPClient) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(stompHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.conn.Write([]byte("\r\n\x00")); err != nil {
				return
			}
		}
	}
}

// readFrame skips leading whitespace (the server's own heartbeat
// newlines), signalling activity for each byte skipped, and reads up to
// the next NUL byte, returning the frame body with surrounding whitespace
// trimmed.
func (c *STOMPClient) readFrame() (string, error) {
	for {
		b, err := c.br.Peek(1)
		if err != nil {
			return "", err
		}
		if b[0] != '\n' && b[0] != '\r' {
			break
		}
		c.br.Discard(1)
		c.signalActivity()
	}

	raw, err := c.br.ReadString('\x00')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimSuffix(raw, "\x00")), nil
}

// signalActivity notifies Subscribe's select loop that bytes were read off
// the wire, even if they never formed a complete frame. Non-blocking: a
// full or nil activity channel (the latter when a STOMPClient is built
// directly by a test, bypassing DialSTOMP) just drops the signal.
func (c *STOMPClient) signalActivity() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// Close closes the underlying connection.
func (c *STOMPClient) Close() error {
	return c.conn.Close()
}
