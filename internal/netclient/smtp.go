package netclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// SMTP reply codes expected at each step of the PLAIN-auth state machine
// (§4.9), grounded on the original's smtp.cc.
const (
	smtpServiceReady            = 220
	smtpRequestedMailActionOK   = 250
	smtpAuthenticationSucceeded = 235
	smtpStartMailInput          = 354
)

// SMTPMessage is the envelope and content for SMTPClient.Send.
type SMTPMessage struct {
	Username, Password string
	From, To            string
	Subject, Content    string
}

// SMTPClient implements the five-step PLAIN-auth-over-TLS state machine:
// EHLO, AUTH PLAIN, MAIL FROM, RCPT TO, DATA, then the message body and
// QUIT. Any deviation from the expected 220/250/235/250/250/354/250
// sequence is mapped to a single "not supported" error, matching the
// original's coarse error handling.
type SMTPClient struct {
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewSMTPClient builds an SMTPClient.
func NewSMTPClient(m *metrics.Metrics, log *slog.Logger) *SMTPClient {
	if log == nil {
		log = logging.Nop()
	}
	return &SMTPClient{metrics: m, log: log}
}

// ErrSMTPNotSupported is returned for any reply code that deviates from the
// expected sequence.
var ErrSMTPNotSupported = fmt.Errorf("smtp: server response not supported")

// Send connects to host:port over TLS and runs the PLAIN-auth state
// machine to deliver msg.
func (c *SMTPClient) Send(ctx context.Context, host, port string, tlsConfig *tls.Config, deadline time.Duration, msg SMTPMessage) error {
	conn, err := Connect(ctx, ConnectOptions{
		Host:      host,
		Port:      port,
		TLS:       true,
		TLSConfig: tlsConfig,
		Deadline:  deadline,
	}, c.metrics, "smtp", c.log)
	if err != nil {
		return err
	}
	defer conn.Close()

	br := bufio.NewReader(conn)

	if _, err := expectReply(br, smtpServiceReady); err != nil {
		return err
	}

	if err := writeLine(conn, "EHLO client.example.com"); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpRequestedMailActionOK); err != nil {
		return err
	}

	auth := msg.Username + "\x00" + msg.Username + "\x00" + msg.Password
	authCmd := "AUTH PLAIN " + base64.StdEncoding.EncodeToString([]byte(auth))
	if err := writeLine(conn, authCmd); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpAuthenticationSucceeded); err != nil {
		return err
	}

	if err := writeLine(conn, fmt.Sprintf("MAIL FROM:<%s>", msg.From)); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpRequestedMailActionOK); err != nil {
		return err
	}

	if err := writeLine(conn, fmt.Sprintf("RCPT TO:<%s>", msg.To)); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpRequestedMailActionOK); err != nil {
		return err
	}

	if err := writeLine(conn, "DATA"); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpStartMailInput); err != nil {
		return err
	}

	data := fmt.Sprintf("Date: %s\r\nFrom: <%s>\r\nTo: <%s>\r\nSubject: %s\r\n\r\n%s\r\n.",
		time.Now().Format(time.RFC1123Z), msg.From, msg.To, msg.Subject, msg.Content)
	if err := writeLine(conn, data); err != nil {
		return err
	}
	if _, err := expectReply(br, smtpRequestedMailActionOK); err != nil {
		return err
	}

	return writeLine(conn, "QUIT")
}

func writeLine(w interface{ Write([]byte) (int, error) }, line string) error {
	_, err := w.Write([]byte(line + "\r\n"))
	return err
}

// expectReply reads one CRLF-terminated line and parses its leading
// reply code, returning ErrSMTPNotSupported if it doesn't match want.
func expectReply(br *bufio.Reader, want int) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("smtp: read reply: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", ErrSMTPNotSupported
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil || code != want {
		return line, ErrSMTPNotSupported
	}
	return line, nil
}
