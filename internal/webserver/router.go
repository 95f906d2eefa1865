package webserver

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lattice-net/netweb/internal/logging"
)

// RouteHandler is user code invoked for a matched route. It returns a
// Response or an error; the Router maps a returned error into the typed
// HTTP error taxonomy (§4.6) instead of letting handler panics or bare
// errors reach the wire.
type RouteHandler func(*RouteRequest) (*Response, error)

// Route is one entry in the router's dispatch table: a method pattern ("*"
// matches any verb), a path prefix, and the handler to run on a match.
type Route struct {
	Method  string
	Prefix  string
	Handler RouteHandler
}

// ReplyHook runs on every response immediately before it is sent, for
// cross-cutting concerns such as CORS headers.
type ReplyHook func(*Response)

// MissingParameterError is the router's typed "missing parameter" error;
// RouteRequest.RequireQueryParam returns it so handlers get the 400 JSON
// shape for free instead of hand-rolling it.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter: %s", e.Name)
}

// Router matches requests to handlers by method + path-prefix and runs the
// matched handler under the configured Executor.
type Router struct {
	routes       []Route
	replyHook    ReplyHook
	extraHeaders http.Header
	cors         bool
	executor     Executor
	log          *slog.Logger
}

// RouterOption configures a Router at construction.
type RouterOption func(*Router)

// WithReplyHook installs a hook run on every response before it is sent.
func WithReplyHook(hook ReplyHook) RouterOption {
	return func(r *Router) { r.replyHook = hook }
}

// WithExtraHeaders sets headers added to every response.
func WithExtraHeaders(h http.Header) RouterOption {
	return func(r *Router) { r.extraHeaders = h }
}

// WithCORS enables CORS: three headers on every reply plus a built-in
// OPTIONS route returning an empty 200.
func WithCORS() RouterOption {
	return func(r *Router) { r.cors = true }
}

// NewRouter builds a Router that dispatches matched handlers through exec.
func NewRouter(exec Executor, log *slog.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = logging.Nop()
	}
	r := &Router{executor: exec, log: log, extraHeaders: make(http.Header)}
	for _, opt := range opts {
		opt(r)
	}
	if r.cors {
		r.routes = append(r.routes, Route{
			Method: http.MethodOptions,
			Prefix: "/",
			Handler: func(*RouteRequest) (*Response, error) {
				return EmptyResponse(http.StatusOK), nil
			},
		})
	}
	return r
}

// Handle registers a route. method "*" matches any verb.
func (r *Router) Handle(method, prefix string, handler RouteHandler) {
	r.routes = append(r.routes, Route{Method: method, Prefix: prefix, Handler: handler})
}

// RouteRequest wraps an *http.Request with the router's pre-decoding: a
// parsed URL view, extracted HTTP Basic credentials, and (for urlencoded
// bodies) the URL-decoded body, plus the original spec's "tail of the path"
// ergonomics as PathParams.
type RouteRequest struct {
	Raw         *http.Request
	URL         *url.URL
	BasicUser   string
	BasicPass   string
	HasBasic    bool
	Body        []byte
	matchedPrefix string
}

// PathParams returns the path segments that follow the matched route's
// prefix, split on "/", with empty segments dropped — the router's
// prefix-match analogue of the original's regex capture groups.
func (rr *RouteRequest) PathParams() []string {
	tail := strings.TrimPrefix(rr.URL.Path, rr.matchedPrefix)
	parts := strings.Split(tail, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequireQueryParam returns the named query parameter, or the router's
// typed MissingParameterError if it is absent or empty.
func (rr *RouteRequest) RequireQueryParam(name string) (string, error) {
	v := rr.URL.Query().Get(name)
	if v == "" {
		return "", &MissingParameterError{Name: name}
	}
	return v, nil
}

// Dispatch matches req against the route table and runs the matched
// handler under the router's Executor, invoking done with the resulting
// Response. If no route matches, done is called directly with a 404.
func (r *Router) Dispatch(req *http.Request, body []byte, done func(*Response)) {
	route, ok := r.match(req.Method, req.URL.Path)
	if !ok {
		resp := JSONErrorResponse(http.StatusNotFound, "not found")
		r.finish(resp, done)
		return
	}

	rr := &RouteRequest{
		Raw:           req,
		URL:           req.URL,
		Body:          body,
		matchedPrefix: route.Prefix,
	}
	if user, pass, ok := parseBasicAuth(req.Header.Get("Authorization")); ok {
		rr.HasBasic = true
		rr.BasicUser = user
		rr.BasicPass = pass
	}
	if strings.Contains(req.Header.Get("Content-Type"), "urlencoded") {
		if decoded, err := url.QueryUnescape(strings.ReplaceAll(string(body), "+", " ")); err == nil {
			rr.Body = []byte(decoded)
		}
	}

	r.executor.Exec(func() (resp *Response) {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Warn("handler panic", logging.KeyError, fmt.Sprint(rec))
				resp = JSONErrorResponse(http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		resp, err := route.Handler(rr)
		if err != nil {
			return r.mapHandlerError(err)
		}
		if resp == nil {
			resp = EmptyResponse(http.StatusOK)
		}
		return resp
	}, func(resp *Response) {
		r.finish(resp, done)
	})
}

// match implements the first-match-wins method+prefix dispatch rule.
func (r *Router) match(method, path string) (Route, bool) {
	for _, route := range r.routes {
		if route.Method != "*" && route.Method != method {
			continue
		}
		if strings.HasPrefix(path, route.Prefix) {
			return route, true
		}
	}
	return Route{}, false
}

// mapHandlerError implements the router's error taxonomy: a
// MissingParameterError becomes 400, anything else becomes 500.
func (r *Router) mapHandlerError(err error) *Response {
	if mp, ok := err.(*MissingParameterError); ok {
		return JSONErrorResponse(http.StatusBadRequest, mp.Error())
	}
	return JSONErrorResponse(http.StatusInternalServerError, err.Error())
}

// finish applies the reply hook, extra headers, and CORS headers (in that
// order) before handing the response to done.
func (r *Router) finish(resp *Response, done func(*Response)) {
	if r.replyHook != nil {
		r.replyHook(resp)
	}
	for k, vs := range r.extraHeaders {
		for _, v := range vs {
			resp.Headers.Add(k, v)
		}
	}
	if r.cors {
		resp.Headers.Set("Access-Control-Allow-Origin", "*")
		resp.Headers.Set("Access-Control-Allow-Headers", "*")
		resp.Headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
	done(resp)
}

// parseBasicAuth extracts username/password from an Authorization header
// value of the form "Basic <base64(user:pass)>".
func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	s := string(decoded)
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
