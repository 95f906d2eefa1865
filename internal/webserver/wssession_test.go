package webserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// newWSTestServer starts an httptest.Server that upgrades every request to
// a WSSession built by UpgradeWebSocket, wiring configure against it before
// Run is called on the accepted connection's own goroutine.
func newWSTestServer(t *testing.T, configure func(*WSSession)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("response writer does not support hijacking")
		}
		conn, brw, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		ws, err := UpgradeWebSocket(conn, brw.Reader, r, false, "sess-test", newTestMetrics(t), nil)
		if err != nil {
			t.Fatalf("UpgradeWebSocket: %v", err)
		}
		if configure != nil {
			configure(ws)
		}
		ws.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSSession_EchoesReceivedMessage(t *testing.T) {
	srv := newWSTestServer(t, func(ws *WSSession) {
		ws.OnMessage(func(sess *WSSession, payload []byte, kind MessageKind) {
			sess.Send(payload, kind, nil)
		})
	})

	client := dialWS(t, srv)
	defer client.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	typ, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText || string(data) != "hello" {
		t.Errorf("got (%v, %q), want (Text, %q)", typ, data, "hello")
	}
}

func TestWSSession_OnOpenAndOnCloseFire(t *testing.T) {
	opened := make(chan bool, 1)
	closed := make(chan string, 1)

	srv := newWSTestServer(t, func(ws *WSSession) {
		ws.OnOpen(func(sess *WSSession, isTLS bool) { opened <- isTLS })
		ws.OnClose(func(sessionID string) { closed <- sessionID })
	})

	client := dialWS(t, srv)

	select {
	case isTLS := <-opened:
		if isTLS {
			t.Error("expected isTLS=false for a plain httptest server")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("on_open did not fire")
	}

	client.Close(websocket.StatusNormalClosure, "")

	select {
	case id := <-closed:
		if id != "sess-test" {
			t.Errorf("on_close id = %q, want sess-test", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("on_close did not fire after client closed")
	}
}

func TestWSSession_SendInvokesCompletionExactlyOnce(t *testing.T) {
	ready := make(chan *WSSession, 1)
	srv := newWSTestServer(t, func(ws *WSSession) {
		ready <- ws
	})

	client := dialWS(t, srv)
	defer client.Close(websocket.StatusNormalClosure, "")

	ws := <-ready

	var calls int
	done := make(chan struct{})
	ws.Send([]byte("payload"), Text, func(err error, n int) {
		calls++
		if err != nil {
			t.Errorf("completion err = %v, want nil", err)
		}
		if n != len("payload") {
			t.Errorf("completion n = %d, want %d", n, len("payload"))
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
	if calls != 1 {
		t.Errorf("completion fired %d times, want exactly 1", calls)
	}
}

func TestWSSession_SendAfterCloseFailsCompletion(t *testing.T) {
	ready := make(chan *WSSession, 1)
	srv := newWSTestServer(t, func(ws *WSSession) {
		ready <- ws
	})

	client := dialWS(t, srv)
	defer client.Close(websocket.StatusNormalClosure, "")

	ws := <-ready
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done := make(chan error, 1)
	ws.Send([]byte("too late"), Text, func(err error, n int) {
		done <- err
	})

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected completion error after session Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion never fired for post-close Send")
	}
}

func TestWSSession_CloseIsIdempotent(t *testing.T) {
	ready := make(chan *WSSession, 1)
	srv := newWSTestServer(t, func(ws *WSSession) {
		ready <- ws
	})

	client := dialWS(t, srv)
	defer client.Close(websocket.StatusNormalClosure, "")

	ws := <-ready
	if err := ws.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}
}
