// Package webserver implements a dual-protocol HTTP/HTTPS+WebSocket server
// with TLS auto-detection, pipelined HTTP responses, WebSocket upgrade, and
// a routing/dispatch layer with a selectable handler-execution strategy.
package webserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/lattice-net/netweb/internal/certutil"
	"github.com/lattice-net/netweb/internal/config"
	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// Server owns the Acceptor, the session registry, and the callbacks wired
// to every HTTP and WebSocket session it spawns.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	router    *Router
	executor  Executor
	metrics   *metrics.Metrics
	log       *slog.Logger

	acceptor *Acceptor

	mu       sync.Mutex
	sessions map[string]sessionHandle
	nextID   uint64

	onWSOpen  func(*WSSession, bool)
	onWSMsg   func(*WSSession, []byte, MessageKind)
	onWSClose func(string)
}

// sessionHandle is the minimal capability the session registry needs to reach
// every live session at Stop, regardless of whether it is an HTTP or
// WebSocket session.
type sessionHandle interface {
	Close() error
}

// NewServer builds a Server from cfg. If cfg.Server has both TLS cert/key
// files set, or TLSSelfSigned is true (an in-memory certificate valid for
// 24h), the Detector wraps TLS-classified connections in a real TLS
// handshake; otherwise TLS-looking connections are still handed to a plain
// HTTP session, whose own framing will fail the handshake attempt as an
// ordinary protocol error.
func NewServer(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}

	var tlsConfig *tls.Config
	switch {
	case cfg.Server.HasTLS():
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	case cfg.Server.TLSSelfSigned:
		cert, err := certutil.SelfSignedServerCert(cfg.Server.Host, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("generate self-signed certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	exec := buildExecutor(cfg.Executor, m, log)

	opts := []RouterOption{}
	if cfg.Router.CORS {
		opts = append(opts, WithCORS())
	}
	router := NewRouter(exec, log, opts...)
	if cfg.Router.StaticRoot != "" {
		router.Handle(http.MethodGet, "/", StaticHandler(cfg.Router.StaticRoot))
	}

	return &Server{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		router:    router,
		executor:  exec,
		metrics:   m,
		log:       log,
		sessions:  make(map[string]sessionHandle),
	}, nil
}

func buildExecutor(cfg config.ExecutorConfig, m *metrics.Metrics, log *slog.Logger) Executor {
	switch cfg.Strategy {
	case "pool":
		return NewPoolExecutor(cfg.PoolSize, m, log)
	case "channel":
		return NewChannelExecutor(cfg.ChannelCapacity, m, log)
	default:
		return NewInlineExecutor()
	}
}

// Router exposes the server's dispatch table for handler registration.
func (s *Server) Router() *Router { return s.router }

// OnWSOpen, OnWSMessage, OnWSClose register the WebSocket session
// callbacks (§6's on_ws_open/on_ws_msg/on_ws_close).
func (s *Server) OnWSOpen(fn func(*WSSession, bool))                  { s.onWSOpen = fn }
func (s *Server) OnWSMessage(fn func(*WSSession, []byte, MessageKind)) { s.onWSMsg = fn }
func (s *Server) OnWSClose(fn func(string))                           { s.onWSClose = fn }

// Init binds the listening endpoint.
func (s *Server) Init(host, port string) error {
	a, err := NewAcceptor(host, port, s.cfg.Server.AcceptsPerSecond, s.metrics, s.log)
	if err != nil {
		return err
	}
	s.acceptor = a
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Run begins accepting connections; it blocks until Stop closes the
// listener. Other accept errors are logged and accepting continues.
func (s *Server) Run(ctx context.Context) error {
	return s.acceptor.Run(ctx, func(conn net.Conn) {
		s.handleConn(ctx, conn)
	})
}

// Stop closes the listener and every live session (§4.2's stop() reaching
// the full session registry).
func (s *Server) Stop() error {
	var err error
	if s.acceptor != nil {
		err = s.acceptor.Stop()
	}
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if ce, ok := s.executor.(*ChannelExecutor); ok {
		ce.Stop()
	}
	return err
}

func (s *Server) register(id string, sess sessionHandle) {
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) newSessionID() string {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	return sessionIDString(id)
}

// handleConn runs the Detector then spawns an HTTPSession, wiring its
// upgrade callback to promote the connection to a WSSession in place.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	detected, br, isTLS, err := Detect(ctx, conn, s.tlsConfig, s.cfg.Server.DetectTimeout, s.log)
	if err != nil {
		conn.Close()
		return
	}

	sessCfg := HTTPSessionConfig{
		IdleTimeout: s.cfg.Server.IdleTimeout,
		BodyLimit:   s.cfg.Server.RequestBodyLimit,
		QueueLimit:  s.cfg.Server.RequestQueueLimit,
	}

	var httpSess *HTTPSession
	httpSess = NewHTTPSession(detected, br, isTLS, s.router, sessCfg, func(c net.Conn, r *bufio.Reader, req *http.Request, tls bool) {
		s.promoteToWebSocket(ctx, c, r, req, tls)
	}, s.metrics, s.log)

	id := s.newSessionID()
	s.register(id, sessionCloser{httpSess})
	defer s.unregister(id)

	httpSess.Run()
}

func (s *Server) promoteToWebSocket(ctx context.Context, conn net.Conn, br *bufio.Reader, req *http.Request, isTLS bool) {
	id := s.newSessionID()
	ws, err := UpgradeWebSocket(conn, br, req, isTLS, id, s.metrics, s.log)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logging.KeyError, err.Error())
		conn.Close()
		return
	}
	ws.OnOpen(s.onWSOpen)
	ws.OnMessage(s.onWSMsg)
	ws.OnClose(func(sessionID string) {
		s.unregister(sessionID)
		if s.onWSClose != nil {
			s.onWSClose(sessionID)
		}
	})

	s.register(id, ws)
	ws.Run(ctx)
}

// Broadcast sends payload to every live WebSocket session; delivery is
// independent per session (§4.5).
func (s *Server) Broadcast(payload []byte, kind MessageKind) {
	s.mu.Lock()
	targets := make([]*WSSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if ws, ok := sess.(*WSSession); ok {
			targets = append(targets, ws)
		}
	}
	s.mu.Unlock()

	for _, ws := range targets {
		ws.Send(payload, kind, nil)
	}
}

type sessionCloser struct {
	sess *HTTPSession
}

func (c sessionCloser) Close() error {
	return c.sess.conn.Close()
}

func sessionIDString(n uint64) string {
	return "sess-" + strconv.FormatUint(n, 10)
}
