// Package api implements the public HTTP API facets of spec.md §4.10:
// summaries, authors, features, versions, rusages, proc/meminfo
// snapshots, vhosts, streams, clients, clusters, a Prometheus
// exposition endpoint, and the raw config rpc channel (including its
// rpc=raw websocket subscription push).
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ringcast/mediacore/pkg/buildinfo"
	"github.com/ringcast/mediacore/pkg/config"
	"github.com/ringcast/mediacore/pkg/httpremux"
	"github.com/ringcast/mediacore/pkg/stats"
)

// Version identifies this build for the versions/summaries facets.
const Version = "1.0.0"

// Server serves the public API facets over HTTP.
type Server struct {
	cfg        config.Provider
	collector  *stats.Collector
	breaker    *stats.CircuitBreaker
	mounts     *httpremux.Mounts
	info       buildinfo.Info
	logger     *slog.Logger
	httpServer *http.Server
	rawSubs    *rawSubscribers
	extra      map[string]http.HandlerFunc
	videoCodec string
}

// Handle registers an additional route alongside the built-in facets,
// for callers that need to expose a component-owned HTTP API (e.g.
// gb28181's publish endpoint) on the same listener. Must be called
// before Start.
func (s *Server) Handle(pattern string, handler http.HandlerFunc) {
	s.extra[pattern] = handler
}

// NewServer builds an API server. Any dependency may be nil; facets
// that need a missing one degrade to an empty/zero response rather
// than panicking, the same defensive shape the teacher's handlers use
// for an uninitialized relay. videoCodec is the tag passed to the
// viewer-facing mux/demux muxers handleMedia builds (see ext.go in the
// teacher's own HTTP-FLV/TS server for the equivalent knob).
func NewServer(cfg config.Provider, collector *stats.Collector, breaker *stats.CircuitBreaker, mounts *httpremux.Mounts, info buildinfo.Info, logger *slog.Logger, videoCodec string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		collector:  collector,
		breaker:    breaker,
		mounts:     mounts,
		info:       info,
		logger:     logger,
		rawSubs:    newRawSubscribers(),
		extra:      make(map[string]http.HandlerFunc),
		videoCodec: videoCodec,
	}
}

// mux builds the route table for every facet endpoint.
func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/summaries", s.handleSummaries)
	mux.HandleFunc("/api/v1/authors", s.handleAuthors)
	mux.HandleFunc("/api/v1/features", s.handleFeatures)
	mux.HandleFunc("/api/v1/versions", s.handleVersions)
	mux.HandleFunc("/api/v1/rusages", s.handleRusages)
	mux.HandleFunc("/api/v1/self_proc_stats", s.handleSelfProcStats)
	mux.HandleFunc("/api/v1/system_proc_stats", s.handleSystemProcStats)
	mux.HandleFunc("/api/v1/meminfos", s.handleMeminfos)
	mux.HandleFunc("/api/v1/requests", s.handleRequests)
	mux.HandleFunc("/api/v1/vhosts", s.handleVhosts)
	mux.HandleFunc("/api/v1/vhosts/", s.handleVhosts)
	mux.HandleFunc("/api/v1/streams", s.handleStreams)
	mux.HandleFunc("/api/v1/streams/", s.handleStreams)
	mux.HandleFunc("/api/v1/clients", s.handleClients)
	mux.HandleFunc("/api/v1/clients/", s.handleClients)
	mux.HandleFunc("/api/v1/clusters", s.handleClusters)
	mux.HandleFunc("/api/v1/raw", s.handleRaw)
	mux.HandleFunc("/api/v1/raw/ws", s.handleRawWebsocket)
	mux.Handle("/metrics", s.metricsHandler())
	for pattern, handler := range s.extra {
		mux.HandleFunc(pattern, handler)
	}
	mux.HandleFunc("/", s.handleMedia)
	return mux
}

// Start begins serving on addr in the background, returning once the
// listener is confirmed up (or has already failed), mirroring the
// teacher's errChan/100ms-grace pattern for surfacing a bind failure
// synchronously to the caller without blocking Start indefinitely.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(s.mux()),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("api server listening", "addr", addr)
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("api request",
			"method", r.Method, "path", r.URL.Path,
			"status", wrapped.statusCode, "duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
