package netclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/lattice-net/netweb/internal/webserver"
)

func newEchoWSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):]
}

func TestDialWSS_RunDeliversEchoedMessage(t *testing.T) {
	srv := newEchoWSServer(t)
	client, err := DialWSS(context.Background(), wsURL(srv), nil, 2*time.Second, newTestMetrics(t), nil)
	if err != nil {
		t.Fatalf("DialWSS: %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, func(payload []byte, kind webserver.MessageKind) {
		received <- payload
	})

	client.Send([]byte("ping"), webserver.Text, nil)

	select {
	case payload := <-received:
		if string(payload) != "ping" {
			t.Errorf("received %q, want %q", payload, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWSSClient_SendInvokesCompletionExactlyOnce(t *testing.T) {
	srv := newEchoWSServer(t)
	client, err := DialWSS(context.Background(), wsURL(srv), nil, 2*time.Second, newTestMetrics(t), nil)
	if err != nil {
		t.Fatalf("DialWSS: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, func([]byte, webserver.MessageKind) {})

	var calls int
	done := make(chan struct{})
	client.Send([]byte("payload"), webserver.Binary, func(err error, n int) {
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
		t.Fatal("completion never fired")
	}
	if calls != 1 {
		t.Errorf("completion fired %d times, want 1", calls)
	}
}

func TestWSSClient_OnFailFiresWhenServerCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	client, err := DialWSS(context.Background(), wsURL(srv), nil, 2*time.Second, newTestMetrics(t), nil)
	if err != nil {
		t.Fatalf("DialWSS: %v", err)
	}
	defer client.Close()

	failed := make(chan error, 1)
	client.OnFail(func(err error) { failed <- err })

	done := make(chan struct{})
	go func() {
		client.Run(context.Background(), func([]byte, webserver.MessageKind) {})
		close(done)
	}()

	select {
	case err := <-failed:
		if err == nil {
			t.Error("expected a non-nil fail error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("on_fail did not fire after server closed")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the connection closed")
	}
}
