package webserver

import (
	"bytes"
	"compress/gzip"
	"strconv"
	"strings"
)

// SelectEncoding implements §4.8/Testable Property 5: gzip is selected iff
// "gzip" appears with a nonzero q-value, or "*" appears with a nonzero
// q-value and "gzip" is not explicitly excluded with q=0.
func SelectEncoding(acceptEncoding string) string {
	if acceptEncoding == "" {
		return "identity"
	}

	gzipQ, gzipSeen := -1.0, false
	starQ, starSeen := -1.0, false

	for _, part := range strings.Split(acceptEncoding, ",") {
		name, q := parseEncodingToken(part)
		switch name {
		case "gzip":
			gzipQ, gzipSeen = q, true
		case "*":
			starQ, starSeen = q, true
		}
	}

	if gzipSeen {
		if gzipQ > 0 {
			return "gzip"
		}
		return "identity"
	}
	if starSeen && starQ > 0 {
		return "gzip"
	}
	return "identity"
}

// parseEncodingToken parses one comma-separated Accept-Encoding token, e.g.
// " gzip;q=0.5", returning its coding name and q-value (default 1.0).
func parseEncodingToken(part string) (name string, q float64) {
	part = strings.TrimSpace(part)
	q = 1.0
	if part == "" {
		return "", 0
	}

	segs := strings.Split(part, ";")
	name = strings.ToLower(strings.TrimSpace(segs[0]))
	for _, seg := range segs[1:] {
		seg = strings.TrimSpace(seg)
		if v, ok := strings.CutPrefix(seg, "q="); ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
	}
	return name, q
}

// GzipCompress compresses body with the default compression level, as used
// when the selected encoding is "gzip".
func GzipCompress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyContentEncoding selects an encoding from acceptEncoding and, if gzip
// is chosen, compresses resp's body in place and sets Content-Encoding.
// Only the string and buffer response variants carry compressible bodies;
// file and empty responses pass through unchanged.
func ApplyContentEncoding(resp *Response, acceptEncoding string) error {
	if SelectEncoding(acceptEncoding) != "gzip" {
		return nil
	}
	switch resp.kind {
	case responseString:
		compressed, err := GzipCompress([]byte(resp.str))
		if err != nil {
			return err
		}
		resp.kind = responseBuffer
		resp.buf = compressed
		resp.Headers.Set("Content-Encoding", "gzip")
	case responseBuffer:
		compressed, err := GzipCompress(resp.buf)
		if err != nil {
			return err
		}
		resp.buf = compressed
		resp.Headers.Set("Content-Encoding", "gzip")
	}
	return nil
}
