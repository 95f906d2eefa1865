package webserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/time/rate"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// Acceptor listens on a bound TCP endpoint and spawns a Detector for each
// accepted socket. An optional rate.Limiter paces admission so a connection
// flood cannot spawn unbounded detectors.
type Acceptor struct {
	listener net.Listener
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewAcceptor resolves and binds host:port with address reuse and the
// platform's maximum backlog, matching the teacher's listener setup.
// acceptsPerSecond of 0 disables pacing entirely.
func NewAcceptor(host, port string, acceptsPerSecond float64, m *metrics.Metrics, log *slog.Logger) (*Acceptor, error) {
	if log == nil {
		log = logging.Nop()
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("listen %s:%s: %w", host, port, err)
	}

	var limiter *rate.Limiter
	if acceptsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(acceptsPerSecond), 1)
	}

	return &Acceptor{listener: ln, limiter: limiter, metrics: m, log: log}, nil
}

// Addr returns the bound address, useful when port "0" was requested.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Run begins the accept loop, calling handle for every accepted connection
// that passes admission pacing. It returns when the listener is closed.
func (a *Acceptor) Run(ctx context.Context, handle func(net.Conn)) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.log.Warn("accept error", logging.KeyError, err.Error())
			continue
		}

		if a.limiter != nil && !a.limiter.Allow() {
			a.metrics.RecordExecutorRejection("accept_rate")
			conn.Close()
			continue
		}

		go handle(conn)
	}
}

// Stop closes the listener; the accept loop's next Accept() call returns
// an error and Run exits.
func (a *Acceptor) Stop() error {
	return a.listener.Close()
}

