package webserver

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/http/httpguts"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// halfCloser is implemented by connections that support half-close — plain
// net.TCPConn, and *tls.Conn (whose CloseWrite sends a close_notify alert
// instead of a bare FIN). Adapted from the teacher's internal/socks5
// handler.go and internal/probe/listen.go, which use the same interface to
// signal one direction done without severing the other.
type halfCloser interface {
	CloseWrite() error
}

// pendingResponse is a slot in the HTTP session's write queue: initially
// empty (handler still running), later filled by the handler's completion
// callback.
type pendingResponse struct {
	req  *http.Request
	resp *Response // nil until filled
}

// HTTPSession owns a stream (plain or TLS) and drives the Reading →
// Dispatching → WaitingForHandler → Writing state machine pipelined over
// one connection (§4.4). Response ordering (Invariant 1) and single
// in-flight write (Invariant 2) are enforced by the PendingResponse FIFO
// guarded by mu, independent of handler completion order.
type HTTPSession struct {
	conn   net.Conn
	br     *bufio.Reader
	isTLS  bool
	router *Router

	idleTimeout time.Duration
	bodyLimit   int64
	queueLimit  int

	onUpgrade func(conn net.Conn, br *bufio.Reader, req *http.Request, isTLS bool)

	metrics *metrics.Metrics
	log     *slog.Logger

	mu          sync.Mutex
	queue       []*pendingResponse
	writeActive bool
	closed      bool
}

// HTTPSessionConfig bundles the per-session tunables sourced from
// Config.Server.
type HTTPSessionConfig struct {
	IdleTimeout time.Duration
	BodyLimit   int64
	QueueLimit  int
}

// NewHTTPSession constructs a session over an already-detected connection.
// br carries any bytes read during TLS sniffing; no byte is lost.
func NewHTTPSession(conn net.Conn, br *bufio.Reader, isTLS bool, router *Router, cfg HTTPSessionConfig, onUpgrade func(net.Conn, *bufio.Reader, *http.Request, bool), m *metrics.Metrics, log *slog.Logger) *HTTPSession {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 8
	}
	return &HTTPSession{
		conn:        conn,
		br:          br,
		isTLS:       isTLS,
		router:      router,
		idleTimeout: cfg.IdleTimeout,
		bodyLimit:   cfg.BodyLimit,
		queueLimit:  cfg.QueueLimit,
		onUpgrade:   onUpgrade,
		metrics:     m,
		log:         log,
	}
}

// Run drives the pipelined read loop until the connection closes, a fatal
// parse error occurs, or the session is upgraded to WebSocket.
func (s *HTTPSession) Run() {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer s.shutdown()

	for {
		if !s.canReadNext() {
			return
		}

		if s.idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		req, err := http.ReadRequest(s.br)
		if err != nil {
			if err == io.EOF {
				return // graceful peer close before any bytes of a new request
			}
			s.enqueueAndClose(nil, JSONErrorResponse(http.StatusBadRequest, "malformed request"))
			return
		}
		s.conn.SetReadDeadline(time.Time{})

		if isWebSocketUpgrade(req) {
			s.finishUpgrade(req)
			return
		}

		limited := http.MaxBytesReader(nil, req.Body, s.bodyLimit)
		body, err := io.ReadAll(limited)
		if err != nil {
			msg := "request body exceeds " + humanize.Bytes(uint64(s.bodyLimit))
			s.enqueueAndClose(req, JSONErrorResponse(http.StatusRequestEntityTooLarge, msg))
			continue
		}

		pending := s.enqueue(req)
		s.router.Dispatch(req, body, func(resp *Response) {
			s.fill(pending, resp)
		})
	}
}

// canReadNext implements Invariant 5: if the queue is at its configured
// depth, defer starting the next read until a slot frees.
func (s *HTTPSession) canReadNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return len(s.queue) < s.queueLimit
}

// enqueue appends an empty PendingResponse slot at the tail of the queue.
func (s *HTTPSession) enqueue(req *http.Request) *pendingResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &pendingResponse{req: req}
	s.queue = append(s.queue, p)
	s.metrics.ObserveQueueDepth(len(s.queue))
	return p
}

// enqueueAndClose enqueues a synthesized terminal response (parse error,
// body-limit breach) and schedules connection close once it drains (§4.4.2
// step 4).
func (s *HTTPSession) enqueueAndClose(req *http.Request, resp *Response) {
	p := s.enqueue(req)
	s.fill(p, resp)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// fill populates a PendingResponse and attempts to drain the queue's head.
// drain is the only place write_active is inspected, set and cleared, so writes
// happen exactly once at a time and exactly in queue order regardless of
// which handler calls fill first.
func (s *HTTPSession) fill(p *pendingResponse, resp *Response) {
	s.mu.Lock()
	p.resp = resp
	s.mu.Unlock()
	s.drain()
}

// drain writes the head of the queue if it is filled and no write is
// already in flight, looping until the head is empty or absent.
func (s *HTTPSession) drain() {
	for {
		s.mu.Lock()
		if s.writeActive || len(s.queue) == 0 || s.queue[0].resp == nil {
			s.mu.Unlock()
			return
		}
		head := s.queue[0]
		s.writeActive = true
		s.mu.Unlock()

		err := s.writeResponse(head.req, head.resp)

		s.mu.Lock()
		s.queue = s.queue[1:]
		s.writeActive = false
		shouldClose := s.closed && len(s.queue) == 0
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("write error", logging.KeyError, err.Error())
			return
		}
		if shouldClose {
			return
		}
	}
}

// writeResponse renders one Response to the connection as an HTTP/1.1
// message, recording request metrics.
func (s *HTTPSession) writeResponse(req *http.Request, resp *Response) error {
	start := time.Now()

	headOnly := req != nil && req.Method == http.MethodHead
	if n := resp.bodyLen(); n >= 0 {
		resp.Headers.Set("Content-Length", strconv.FormatInt(n, 10))
	}
	resp.Headers.Set("Server", "netweb")

	bw := bufio.NewWriter(s.conn)
	method := "-"
	if req != nil {
		method = req.Method
		if ae := req.Header.Get("Accept-Encoding"); ae != "" {
			ApplyContentEncoding(resp, ae)
			if n := resp.bodyLen(); n >= 0 {
				resp.Headers.Set("Content-Length", strconv.FormatInt(n, 10))
			}
		}
	}

	if _, err := bw.WriteString(statusLine(resp.Status)); err != nil {
		return err
	}
	if err := resp.Headers.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if err := resp.writeBody(bw, headOnly); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	s.metrics.RecordRequest(method, statusClass(resp.Status), time.Since(start).Seconds())
	return nil
}

// shutdown performs the session's graceful close (§4.4.4): a plain
// connection gets a TCP half-close (send), a TLS connection gets a
// close_notify alert, both bounded by a short deadline. The peer skipping
// close_notify ("stream truncated") or the deadline firing ("timeout") are
// both treated as a best-effort graceful close, not a session error.
func (s *HTTPSession) shutdown() {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if hc, ok := s.conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			s.log.Debug("graceful shutdown close-write failed", logging.KeyError, err.Error())
		}
	}
	s.conn.SetWriteDeadline(time.Time{})
	s.conn.Close()
}

// finishUpgrade hands ownership of the connection and buffered reader to
// the caller-supplied upgrade callback (wired to a WebSocket session by
// Server) and ends the HTTP session.
func (s *HTTPSession) finishUpgrade(req *http.Request) {
	if s.idleTimeout > 0 {
		s.conn.SetReadDeadline(time.Time{})
	}
	if s.onUpgrade != nil {
		s.onUpgrade(s.conn, s.br, req, s.isTLS)
	}
}

// isWebSocketUpgrade validates the Connection/Upgrade header tokens the
// same way net/http's own server does internally.
func isWebSocketUpgrade(req *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(req.Header["Connection"], "Upgrade") &&
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func statusLine(status int) string {
	text := http.StatusText(status)
	if text == "" {
		text = "Status"
	}
	return "HTTP/1.1 " + strconv.Itoa(status) + " " + text + "\r\n"
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "1xx"
	}
}
