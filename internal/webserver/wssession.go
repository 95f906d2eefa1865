package webserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// MessageKind distinguishes WebSocket message framing, mirroring
// websocket.MessageType without leaking the library type into callbacks.
type MessageKind int

const (
	Text MessageKind = iota
	Binary
)

// wsFrame is a payload queued for transmission plus its completion
// callback, invoked exactly once (success or failure) from the drain
// goroutine so callbacks are mutually ordered with the frames they
// describe (Invariant 7). A Send on an already-closed session never queues
// a frame; its completion fires at once on the caller's goroutine.
type wsFrame struct {
	payload    []byte
	kind       MessageKind
	completion func(err error, n int)
}

// WSSession owns an upgraded connection: a read loop dispatching to
// on_msg/on_open/on_close, and a single drain goroutine serializing writes
// from a buffered send queue.
type WSSession struct {
	id       string
	conn     *websocket.Conn
	isTLS    bool
	sendCh   chan wsFrame
	closed   atomic.Bool
	closeMu  sync.Mutex

	onOpen  func(sess *WSSession, isTLS bool)
	onMsg   func(sess *WSSession, payload []byte, kind MessageKind)
	onClose func(sessionID string)

	metrics *metrics.Metrics
	log     *slog.Logger
}

// UpgradeWebSocket performs the server-side accept over a connection
// already buffered by the HTTP session's Detector/read path, using the
// adapter in upgrade.go so no sniffed or pipelined-ahead bytes are lost.
func UpgradeWebSocket(conn net.Conn, br *bufio.Reader, req *http.Request, isTLS bool, sessionID string, m *metrics.Metrics, log *slog.Logger) (*WSSession, error) {
	if log == nil {
		log = logging.Nop()
	}

	rw := newHijackedResponseWriter(conn, br)
	wsConn, err := websocket.Accept(rw, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}

	return &WSSession{
		id:      sessionID,
		conn:    wsConn,
		isTLS:   isTLS,
		sendCh:  make(chan wsFrame, 64),
		metrics: m,
		log:     log,
	}, nil
}

// OnOpen, OnMessage, OnClose register the session's callbacks before Run is
// called.
func (s *WSSession) OnOpen(fn func(*WSSession, bool))                    { s.onOpen = fn }
func (s *WSSession) OnMessage(fn func(*WSSession, []byte, MessageKind))   { s.onMsg = fn }
func (s *WSSession) OnClose(fn func(string))                              { s.onClose = fn }

// ID returns the session's registry identifier.
func (s *WSSession) ID() string { return s.id }

// Run starts the drain goroutine and blocks in the read loop until the
// connection closes, invoking on_open first and on_close on return.
func (s *WSSession) Run(ctx context.Context) {
	s.metrics.WSSessionOpened()
	defer s.metrics.WSSessionClosed()

	go s.drain(ctx)

	if s.onOpen != nil {
		s.onOpen(s, s.isTLS)
	}

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				s.log.Debug("websocket read error", logging.KeyError, err.Error())
			}
			break
		}
		s.metrics.RecordWSReceive()
		kind := Binary
		if typ == websocket.MessageText {
			kind = Text
		}
		if s.onMsg != nil {
			s.onMsg(s, data, kind)
		}
	}

	s.Close()
	if s.onClose != nil {
		s.onClose(s.id)
	}
}

// Send enqueues payload for transmission, invoking completion exactly once
// when it has left the wire or failed to. Safe to call concurrently from
// multiple goroutines; frames leave the wire in submission order
// (Invariant 7).
func (s *WSSession) Send(payload []byte, kind MessageKind, completion func(err error, n int)) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Load() {
		if completion != nil {
			completion(fmt.Errorf("session closed"), 0)
		}
		return
	}
	s.metrics.RecordWSSend(len(s.sendCh))
	// closeMu held across the channel send, so a concurrent Close cannot
	// close sendCh between the check above and this send (§7: no panics).
	// A full queue blocks the caller rather than drops the frame, so
	// submission order is preserved once capacity frees.
	s.sendCh <- wsFrame{payload: payload, kind: kind, completion: completion}
}

// drain is the session's single writer: it transmits one frame at a time
// in submission order and fires each frame's completion callback after the
// write resolves.
func (s *WSSession) drain(ctx context.Context) {
	for frame := range s.sendCh {
		typ := websocket.MessageBinary
		if frame.kind == Text {
			typ = websocket.MessageText
		}
		err := s.conn.Write(ctx, typ, frame.payload)
		if frame.completion != nil {
			if err != nil {
				frame.completion(err, 0)
			} else {
				frame.completion(nil, len(frame.payload))
			}
		}
	}
}

// Close terminates the session exactly once; a second call is a no-op
// (idempotence, §7).
func (s *WSSession) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	// Closing sendCh under closeMu — the same lock Send holds across its
	// own closed check and channel send — rules out a Send that passed
	// the check racing this close (§7: no panics).
	close(s.sendCh)
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
