package webserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

// responseKind tags which variant of Response is populated.
type responseKind int

const (
	responseString responseKind = iota
	responseBuffer
	responseFile
	responseEmpty
)

// Response is the tagged-union result a handler produces: exactly one of a
// string body, a byte-buffer body, an open file, or no body at all. The
// write path dispatches on the unexported kind field; header injection (CORS, extra headers,
// Content-Length) must visit every variant rather than assuming one shape.
type Response struct {
	Status  int
	Headers http.Header

	kind   responseKind
	str    string
	buf    []byte
	file   *os.File
	fileSz int64
}

// StringResponse builds a Response whose body is an in-memory string.
func StringResponse(status int, contentType, body string) *Response {
	r := &Response{Status: status, Headers: make(http.Header), kind: responseString, str: body}
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	return r
}

// BufferResponse builds a Response whose body is an in-memory byte buffer.
func BufferResponse(status int, contentType string, body []byte) *Response {
	r := &Response{Status: status, Headers: make(http.Header), kind: responseBuffer, buf: body}
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	return r
}

// FileResponse builds a Response whose body streams from an open file. size
// is the file's length, used to set Content-Length.
func FileResponse(status int, contentType string, f *os.File, size int64) *Response {
	r := &Response{Status: status, Headers: make(http.Header), kind: responseFile, file: f, fileSz: size}
	if contentType != "" {
		r.Headers.Set("Content-Type", contentType)
	}
	return r
}

// EmptyResponse builds a Response with no body.
func EmptyResponse(status int) *Response {
	return &Response{Status: status, Headers: make(http.Header), kind: responseEmpty}
}

// JSONErrorResponse builds the router's typed JSON error shape,
// {"error":"<msg>"}, used throughout the error taxonomy (§4.6).
func JSONErrorResponse(status int, msg string) *Response {
	body := fmt.Sprintf(`{"error":%q}`, msg)
	return StringResponse(status, "application/json", body)
}

// SetHeader sets a response header, visiting the variant uniformly — every
// Response carries its own http.Header regardless of body kind.
func (r *Response) SetHeader(key, value string) {
	r.Headers.Set(key, value)
}

// bodyLen returns the Content-Length for the variant (0 for an empty
// response).
func (r *Response) bodyLen() int64 {
	switch r.kind {
	case responseString:
		return int64(len(r.str))
	case responseBuffer:
		return int64(len(r.buf))
	case responseFile:
		return r.fileSz
	default:
		return 0
	}
}

// writeBody writes the variant's body to w. headOnly suppresses body bytes
// for HEAD requests while headers (including Content-Length) are still set.
func (r *Response) writeBody(w io.Writer, headOnly bool) error {
	if headOnly {
		if r.kind == responseFile {
			return r.file.Close()
		}
		return nil
	}
	switch r.kind {
	case responseString:
		_, err := io.WriteString(w, r.str)
		return err
	case responseBuffer:
		_, err := w.Write(r.buf)
		return err
	case responseFile:
		defer r.file.Close()
		_, err := io.Copy(w, r.file)
		return err
	default:
		return nil
	}
}
