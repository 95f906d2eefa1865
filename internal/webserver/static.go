package webserver

import (
	"net/http"
	"os"
	"path"
	"strings"
)

// mimeByExt is the closed MIME-type table from §4.6; anything else falls
// back to application/octet-stream.
var mimeByExt = map[string]string{
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".wasm": "application/wasm",
	".css":  "text/css",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml",
	".eot":  "application/vnd.ms-fontobject",
	".otf":  "font/otf",
	".ttf":  "font/ttf",
	".pdf":  "application/pdf",
}

// mimeType resolves a file extension to its MIME type using the closed
// table, defaulting to application/octet-stream.
func mimeType(name string) string {
	if t, ok := mimeByExt[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// isSafePath rejects path traversal per §4.6: no empty segments, no "."/
// "..", no ":".
func isSafePath(p string) bool {
	if strings.Contains(p, ":") {
		return false
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		switch seg {
		case "":
			if i == 0 || i == len(segs)-1 {
				continue // leading/trailing slashes produce empty segments; only interior ones matter
			}
			return false
		case ".", "..":
			return false
		}
	}
	return true
}

// StaticHandler builds a RouteHandler serving GET/HEAD requests from root,
// implementing E6: path traversal prevention, index.html for directories,
// and a 301 redirect to add a trailing slash for bare directory names.
func StaticHandler(root string) RouteHandler {
	return func(rr *RouteRequest) (*Response, error) {
		if rr.Raw.Method != http.MethodGet && rr.Raw.Method != http.MethodHead {
			return JSONErrorResponse(http.StatusMethodNotAllowed, "method not allowed"), nil
		}

		urlPath := rr.URL.Path
		if !isSafePath(urlPath) {
			return JSONErrorResponse(http.StatusBadRequest, "invalid path"), nil
		}

		fsPath := path.Join(root, urlPath)

		info, err := os.Stat(fsPath)
		if err != nil {
			return JSONErrorResponse(http.StatusNotFound, "not found"), nil
		}

		if info.IsDir() {
			if !strings.HasSuffix(urlPath, "/") {
				redirectURL := urlPath + "/"
				resp := EmptyResponse(http.StatusMovedPermanently)
				resp.Headers.Set("Location", redirectURL)
				return resp, nil
			}
			fsPath = path.Join(fsPath, "index.html")
			info, err = os.Stat(fsPath)
			if err != nil {
				return JSONErrorResponse(http.StatusNotFound, "not found"), nil
			}
		}

		f, err := os.Open(fsPath)
		if err != nil {
			return JSONErrorResponse(http.StatusInternalServerError, "cannot open file"), nil
		}

		resp := FileResponse(http.StatusOK, mimeType(fsPath), f, info.Size())
		return resp, nil
	}
}
