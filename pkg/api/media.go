package api

import (
	"errors"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/ringcast/mediacore/pkg/apperr"
	"github.com/ringcast/mediacore/pkg/httpremux"
)

// contentTypeForExt maps an HTTP-remux mount extension to the MIME type
// viewers expect, following the same flv/ts/aac/mp3 set newMuxer builds.
func contentTypeForExt(ext string) string {
	switch ext {
	case "flv":
		return "video/x-flv"
	case "ts":
		return "video/mp2t"
	case "aac":
		return "audio/aac"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// handleMedia is the catch-all viewer-facing route: it resolves the
// request path against the mount registry and streams the live source
// out over the response body until the client disconnects, per
// spec.md §4.9's serve_http lifecycle. Routes that don't resolve to a
// live mount (including "/" itself) fail with StreamNotFound rather
// than a bare 404, so callers get the same envelope-free, code-bearing
// response shape the rest of the media edge uses.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entry, err := s.mounts.Resolve(r.URL.Path)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, httpremux.ErrStreamDisposing) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, apperr.Wrap(apperr.StreamNotFound, "stream not mounted", err).Error(), status)
		return
	}

	w.Header().Set("Content-Type", contentTypeForExt(strings.TrimPrefix(path.Ext(r.URL.Path), ".")))
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	viewerID := uuid.NewString()
	if err := s.mounts.ServeViewer(r.Context(), entry, viewerID, clientIPFrom(r), w, s.videoCodec, r.Context().Done()); err != nil {
		s.logger.Warn("httpremux viewer serve failed", "path", r.URL.Path, "viewer", viewerID, "error", err)
	}
}

// clientIPFrom extracts the request's remote IP, stripping the port
// net/http.Request.RemoteAddr always carries.
func clientIPFrom(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
