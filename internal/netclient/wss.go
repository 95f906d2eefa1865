package netclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
	"github.com/lattice-net/netweb/internal/webserver"
)

// WSSClient is the client-side counterpart to webserver.WSSession: resolve
// → TCP connect → TLS handshake → WebSocket handshake → reader loop, with
// a serialized sender and an on_fail callback fired exactly once (§4.9).
type WSSClient struct {
	conn   *websocket.Conn
	sendCh chan wssFrame

	onFail   func(error)
	failOnce sync.Once

	metrics *metrics.Metrics
	log     *slog.Logger
}

type wssFrame struct {
	payload    []byte
	kind       webserver.MessageKind
	completion func(err error, n int)
}

// DialWSS performs the connect-with-timeout handshake and the WebSocket
// upgrade against url (a ws:// or wss:// URL), sharing nhooyr.io/websocket
// with the server's WebSocket session.
func DialWSS(ctx context.Context, url string, tlsConfig *tls.Config, deadline time.Duration, m *metrics.Metrics, log *slog.Logger) (*WSSClient, error) {
	if log == nil {
		log = logging.Nop()
	}

	dialCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	// nhooyr.io/websocket dials over http.DefaultClient unless given one of
	// our own, so a caller-supplied TLS config (including the §4.9
	// accept-all default applied by Connect/http.go/smtp.go) only takes
	// effect against wss:// if plumbed through a dedicated Transport here.
	var httpClient *http.Client
	if tlsConfig != nil {
		httpClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
	}

	start := time.Now()
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		m.RecordConnectError("wss")
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	m.RecordConnect("wss", time.Since(start).Seconds())

	return &WSSClient{
		conn:    conn,
		sendCh:  make(chan wssFrame, 64),
		metrics: m,
		log:     log,
	}, nil
}

// OnFail registers the callback invoked exactly once when the client's
// read or write loop observes a terminal error.
func (c *WSSClient) OnFail(fn func(error)) { c.onFail = fn }

// Run starts the serialized sender and blocks in the reader loop,
// delivering messages to onMsg with a text/binary flag, until the
// connection fails or ctx is cancelled.
func (c *WSSClient) Run(ctx context.Context, onMsg func(payload []byte, kind webserver.MessageKind)) {
	go c.drain(ctx)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			c.fail(err)
			return
		}
		c.metrics.RecordWSReceive()
		kind := webserver.Binary
		if typ == websocket.MessageText {
			kind = webserver.Text
		}
		onMsg(data, kind)
	}
}

// Send enqueues payload for transmission; frames leave the wire in
// submission order and completion fires exactly once, matching the server
// session's send contract.
func (c *WSSClient) Send(payload []byte, kind webserver.MessageKind, completion func(err error, n int)) {
	c.metrics.RecordWSSend(len(c.sendCh))
	c.sendCh <- wssFrame{payload: payload, kind: kind, completion: completion}
}

func (c *WSSClient) drain(ctx context.Context) {
	for frame := range c.sendCh {
		typ := websocket.MessageBinary
		if frame.kind == webserver.Text {
			typ = websocket.MessageText
		}
		err := c.conn.Write(ctx, typ, frame.payload)
		if frame.completion != nil {
			if err != nil {
				frame.completion(err, 0)
			} else {
				frame.completion(nil, len(frame.payload))
			}
		}
		if err != nil {
			// Keep draining so every queued frame still gets its
			// completion (with the write error) exactly once.
			c.fail(err)
		}
	}
}

func (c *WSSClient) fail(err error) {
	c.failOnce.Do(func() {
		if c.onFail != nil {
			c.onFail(err)
		}
	})
}

// Close closes the underlying connection.
func (c *WSSClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
