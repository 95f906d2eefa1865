package netclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lattice-net/netweb/internal/certutil"
)

// fakeSMTPServer drives the PLAIN-auth reply sequence a real server would
// send, with authReply controlling which reply to send at the auth step so
// deviation-handling can be exercised.
func fakeSMTPServer(t *testing.T, ln net.Listener, authReply string) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)

		conn.Write([]byte("220 ready\r\n"))
		br.ReadString('\n') // EHLO
		conn.Write([]byte("250 ok\r\n"))
		br.ReadString('\n') // AUTH PLAIN ...
		conn.Write([]byte(authReply + "\r\n"))
		if authReply != "235 authenticated" {
			return
		}
		br.ReadString('\n') // MAIL FROM
		conn.Write([]byte("250 ok\r\n"))
		br.ReadString('\n') // RCPT TO
		conn.Write([]byte("250 ok\r\n"))
		br.ReadString('\n') // DATA
		conn.Write([]byte("354 go ahead\r\n"))
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if line == ".\r\n" {
				break
			}
		}
		conn.Write([]byte("250 ok\r\n"))
		br.ReadString('\n') // QUIT
	}()
}

func newTLSListener(t *testing.T) net.Listener {
	t.Helper()
	cert, err := certutil.SelfSignedServerCert("localhost", time.Hour)
	if err != nil {
		t.Fatalf("SelfSignedServerCert: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls.Listen: %v", err)
	}
	return ln
}

func TestSMTPClient_Send_Succeeds(t *testing.T) {
	ln := newTLSListener(t)
	defer ln.Close()
	fakeSMTPServer(t, ln, "235 authenticated")

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	client := NewSMTPClient(newTestMetrics(t), nil)
	err := client.Send(context.Background(), host, port, &tls.Config{InsecureSkipVerify: true}, 2*time.Second, SMTPMessage{
		Username: "user",
		Password: "pass",
		From:     "from@example.com",
		To:       "to@example.com",
		Subject:  "hi",
		Content:  "body",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSMTPClient_Send_AuthFailureMapsToNotSupported(t *testing.T) {
	ln := newTLSListener(t)
	defer ln.Close()
	fakeSMTPServer(t, ln, "535 bad credentials")

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	client := NewSMTPClient(newTestMetrics(t), nil)
	err := client.Send(context.Background(), host, port, &tls.Config{InsecureSkipVerify: true}, 2*time.Second, SMTPMessage{
		Username: "user",
		Password: "pass",
		From:     "from@example.com",
		To:       "to@example.com",
	})
	if err != ErrSMTPNotSupported {
		t.Errorf("err = %v, want ErrSMTPNotSupported", err)
	}
}

func TestExpectReply(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    int
		wantErr bool
	}{
		{"matches", "250 OK\r\n", 250, false},
		{"mismatch", "550 failure\r\n", 250, true},
		{"unparseable", "not-a-code\r\n", 250, true},
		{"empty", "\r\n", 250, true},
	}
	for _, tt := range tests {
		br := bufio.NewReader(strings.NewReader(tt.line))
		_, err := expectReply(br, tt.want)
		if tt.wantErr && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
	}
}
