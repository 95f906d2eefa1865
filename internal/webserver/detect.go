package webserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/lattice-net/netweb/internal/logging"
)

// sniffWindow is how many bytes the Detector peeks to recognize a TLS
// ClientHello record header, matching async_detect_ssl's heuristic.
const sniffWindow = 16

// Detect peeks at conn's first bytes to distinguish a TLS ClientHello from
// plain HTTP, bounded by deadline. The returned bufio.Reader carries
// forward every byte read during the sniff — no byte is lost across the
// transition to the HTTP session, TLS or plain.
func Detect(ctx context.Context, conn net.Conn, tlsConfig *tls.Config, deadline time.Duration, log *slog.Logger) (net.Conn, *bufio.Reader, bool, error) {
	if log == nil {
		log = logging.Nop()
	}

	if deadline > 0 {
		conn.SetReadDeadline(time.Now().Add(deadline))
	}

	br := bufio.NewReaderSize(conn, sniffWindow)
	peeked, err := br.Peek(3)
	if err != nil {
		return nil, nil, false, err
	}

	if deadline > 0 {
		conn.SetReadDeadline(time.Time{})
	}

	isTLS := looksLikeClientHello(peeked)
	if !isTLS {
		return conn, br, false, nil
	}
	if tlsConfig == nil {
		// No TLS configured: the transport-level handshake will fail on its
		// own once the TLS bytes hit a plaintext session; hand it forward
		// as plain so the failure surfaces as an ordinary protocol error
		// rather than a silent drop.
		return conn, br, false, nil
	}

	tlsConn := tls.Server(&prefixedConn{Conn: conn, r: br}, tlsConfig)
	return tlsConn, bufio.NewReader(tlsConn), true, nil
}

// looksLikeClientHello recognizes the TLS record header for a handshake
// record: type 0x16 (handshake), version 0x03 0x0{1,2,3} (TLS 1.0–1.2,
// ClientHello records in TLS 1.3 still advertise 0x03 0x03 for compat).
func looksLikeClientHello(b []byte) bool {
	if len(b) < 3 {
		return false
	}
	return b[0] == 0x16 && b[1] == 0x03 && b[2] >= 0x01 && b[2] <= 0x03
}

// prefixedConn is a net.Conn whose Read is satisfied first from a buffered
// reader (carrying bytes already consumed during sniffing) and then from
// the underlying connection.
type prefixedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *prefixedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
