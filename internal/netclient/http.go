package netclient

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
)

// HTTPResponse is the decoded result of HTTPClient.Do: normalized
// lower-case header keys, Set-Cookie folded to name=value pairs joined
// across occurrences, and the body already gzip-decompressed if the
// server's Content-Encoding said so.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// HTTPClient issues one HTTP/1.1 request per call over a connection
// established by Connect, implementing spec.md §4.9's HTTP client
// contract (chunked decode, gzip response decompression, Set-Cookie
// folding).
type HTTPClient struct {
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(m *metrics.Metrics, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPClient{metrics: m, log: log}
}

// Do connects to host:port (TLS if tlsConfig is non-nil), writes method and
// target with headers and an optional body, and returns the decoded
// response.
func (c *HTTPClient) Do(ctx context.Context, host, port string, tlsConfig *tls.Config, deadline time.Duration, method, target string, headers http.Header, body []byte) (*HTTPResponse, error) {
	proto := "http"
	if tlsConfig != nil {
		proto = "https"
	}

	conn, err := Connect(ctx, ConnectOptions{
		Host:      host,
		Port:      port,
		TLS:       tlsConfig != nil,
		TLSConfig: tlsConfig,
		Deadline:  deadline,
	}, c.metrics, proto, c.log)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := c.writeRequest(conn, host, method, target, headers, body); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	return c.readResponse(conn)
}

// writeRequest serializes the request line, headers, and body.
func (c *HTTPClient) writeRequest(w io.Writer, host, method, target string, headers http.Header, body []byte) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "Host: %s\r\n", host); err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	if len(body) > 0 {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body)); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// readResponse reads the status line, headers until the blank line, then
// the body per Content-Length, chunked Transfer-Encoding, or EOF (§4.9).
func (c *HTTPClient) readResponse(r io.Reader) (*HTTPResponse, error) {
	br := bufio.NewReader(r)

	statusLine, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read status line: %w", err)
	}
	status, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	var setCookies []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		if key == "set-cookie" {
			setCookies = append(setCookies, cookiePair(val))
			continue
		}
		headers[key] = val
	}
	if len(setCookies) > 0 {
		headers["set-cookie"] = strings.Join(setCookies, "; ")
	}

	body, err := readBody(br, headers)
	if err != nil {
		return nil, err
	}

	if headers["content-encoding"] == "gzip" {
		decompressed, err := gunzip(body)
		if err != nil {
			return nil, fmt.Errorf("gunzip body: %w", err)
		}
		body = decompressed
	}

	return &HTTPResponse{Status: status, Headers: headers, Body: body}, nil
}

func parseStatusLine(line string) (int, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed status code %q: %w", parts[1], err)
	}
	return status, nil
}

// cookiePair keeps only the name=value portion of a Set-Cookie value, up to
// the first ';'.
func cookiePair(setCookie string) string {
	if idx := strings.IndexByte(setCookie, ';'); idx >= 0 {
		return strings.TrimSpace(setCookie[:idx])
	}
	return strings.TrimSpace(setCookie)
}

func readBody(br *bufio.Reader, headers map[string]string) ([]byte, error) {
	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, fmt.Errorf("malformed content-length %q: %w", cl, err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return buf, nil
	}
	if strings.Contains(headers["transfer-encoding"], "chunked") {
		return readChunked(br)
	}
	return io.ReadAll(br)
}

// readChunked decodes chunked transfer-encoding until the terminating
// zero-size chunk.
func readChunked(br *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		sizeLine, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk size: %w", err)
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeLine = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk size %q: %w", sizeLine, err)
		}
		if size == 0 {
			br.ReadString('\n') // trailing CRLF after the terminating chunk
			break
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		out = append(out, chunk...)
		br.ReadString('\n') // CRLF trailing each chunk's data
	}
	return out, nil
}

func gunzip(body []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
