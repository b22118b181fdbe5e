package httpremux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ringcast/mediacore/pkg/config"
	"github.com/ringcast/mediacore/pkg/hooks"
	"github.com/ringcast/mediacore/pkg/logger"
	"github.com/ringcast/mediacore/pkg/stream"
)

// ErrStreamDisposing is returned by Mounts.Resolve when a mount attempt
// lands on an entry that is still tearing down from a prior Unmount,
// per spec.md §7's "mount attempt on a still-disposing entry" case.
var ErrStreamDisposing = errors.New("httpremux: stream is disposing")

// ErrStreamNotFound is returned when a viewer's serve loop discovers the
// entry it attached to has already been removed, the on_stop-without-a-
// live-entry case spec.md §4.9 calls out explicitly.
var ErrStreamNotFound = errors.New("httpremux: stream not found")

// ViewerRecorder is the statistic collector a Mounts registers viewer
// connect/disconnect events with; pkg/stats implements it.
type ViewerRecorder interface {
	RecordViewerConnect(mountURL, clientIP string)
	RecordViewerDisconnect(mountURL, clientIP string)
}

// Entry is one dynamically mounted HTTP-remux endpoint: a live source,
// the buffer cache fanning it out, and the disposing flag that blocks
// new mounts while teardown is in flight.
type Entry struct {
	URL       string
	Vhost     string
	App       string
	Stream    string
	Ext       string
	source    *stream.Source
	cache     *BufferCache
	createdAt time.Time

	mu        sync.Mutex
	disposing bool
}

// Disposing reports whether e is tearing down.
func (e *Entry) Disposing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposing
}

// SourceStats reports the underlying stream.Source's running counters.
func (e *Entry) SourceStats() stream.SourceStats {
	return e.source.Stats()
}

// CreatedAt reports when this entry was mounted.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// newMuxer builds the per-format encoder this entry's ext selects.
func newMuxer(ext string, w io.Writer, videoCodec string) (stream.Consumer, error) {
	switch ext {
	case "flv":
		return NewFLVMuxer(w, true), nil
	case "ts":
		return NewTSMuxer(w, videoCodec), nil
	case "aac":
		return NewAACMuxer(w), nil
	case "mp3":
		return NewMP3Muxer(w), nil
	default:
		return nil, fmt.Errorf("httpremux: unsupported mount extension %q", ext)
	}
}

// Mounts is the registry of dynamic HTTP-remux endpoints: mount
// patterns resolve [vhost]/[app]/[stream]/[ext] placeholders to a
// concrete URL, and remounting the same resolved URL always returns the
// same live Entry rather than creating a second one.
type Mounts struct {
	pattern              string
	cacheWindowIfEnabled func(vhost string) time.Duration
	cfg                  config.Provider
	logger               *logger.Logger
	dispatcher           *hooks.Dispatcher
	recorder             ViewerRecorder

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMounts builds a registry using pattern (e.g. "/[app]/[stream].[ext]")
// to resolve request paths, cacheWindow to decide each entry's buffer
// cache window (0 disables caching for that vhost), and cfg/dispatcher/
// recorder to drive the on_play/on_stop hook and viewer-stat steps of
// serve_http's lifecycle.
func NewMounts(pattern string, cacheWindow func(vhost string) time.Duration, cfg config.Provider, dispatcher *hooks.Dispatcher, recorder ViewerRecorder, log *logger.Logger) *Mounts {
	return &Mounts{
		pattern:              pattern,
		cacheWindowIfEnabled: cacheWindow,
		cfg:                  cfg,
		dispatcher:           dispatcher,
		recorder:             recorder,
		logger:               log,
		entries:              make(map[string]*Entry),
	}
}

// MountURL resolves this registry's pattern against vhost/app/stream/ext.
func (m *Mounts) MountURL(vhost, app, streamName, ext string) string {
	return hooks.ApplyTemplate(m.pattern, vhost, app, streamName, ext)
}

// Mount publishes source under the resolved URL for vhost/app/stream/ext,
// creating a fresh Entry, or returning the existing live one if this
// exact URL is already mounted. A mount onto a still-disposing entry
// fails with ErrStreamDisposing rather than racing its teardown.
func (m *Mounts) Mount(vhost, app, streamName, ext string, source *stream.Source) (*Entry, error) {
	url := m.MountURL(vhost, app, streamName, ext)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[url]; ok {
		existing.mu.Lock()
		disposing := existing.disposing
		existing.mu.Unlock()
		if disposing {
			return nil, fmt.Errorf("%w: %s", ErrStreamDisposing, url)
		}
		return existing, nil
	}

	window := time.Duration(0)
	if m.cacheWindowIfEnabled != nil {
		window = m.cacheWindowIfEnabled(vhost)
	}
	cache, err := NewBufferCache(source, "httpremux:"+url, window)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		URL:       url,
		Vhost:     vhost,
		App:       app,
		Stream:    streamName,
		Ext:       ext,
		source:    source,
		cache:     cache,
		createdAt: time.Now(),
	}
	m.entries[url] = e
	if m.logger != nil {
		m.logger.Info("httpremux mount created", "url", url, "ext", ext)
	}
	return e, nil
}

// List returns every currently mounted entry, live or disposing, for
// the API's streams facet to enumerate.
func (m *Mounts) List() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Resolve looks up the live entry for url, failing with
// ErrStreamNotFound or ErrStreamDisposing as appropriate.
func (m *Mounts) Resolve(url string) (*Entry, error) {
	m.mu.Lock()
	e, ok := m.entries[url]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, url)
	}
	e.mu.Lock()
	disposing := e.disposing
	e.mu.Unlock()
	if disposing {
		return nil, fmt.Errorf("%w: %s", ErrStreamDisposing, url)
	}
	return e, nil
}

// Unmount marks url's entry disposing and enqueues its async teardown;
// it is a no-op if url is not currently mounted.
func (m *Mounts) Unmount(url string) {
	m.mu.Lock()
	e, ok := m.entries[url]
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.disposing = true
	e.mu.Unlock()

	go func() {
		e.cache.Stop()
		m.mu.Lock()
		if m.entries[url] == e {
			delete(m.entries, url)
		}
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Info("httpremux mount disposed", "url", url)
		}
	}()
}

// ServeViewer runs one HTTP-remux viewer's full lifecycle against e,
// following spec.md §4.9's serve_http steps: record the viewer, run
// on_play hooks, stream until done (the caller's done channel closes or
// an error occurs), then run on_stop hooks and remove the viewer — with
// on_stop always balanced against a successful on_play, even when done
// fires because the entry itself started disposing mid-stream.
func (m *Mounts) ServeViewer(ctx context.Context, e *Entry, viewerID, clientIP string, w io.Writer, videoCodec string, done <-chan struct{}) error {
	muxer, err := newMuxer(e.Ext, w, videoCodec)
	if err != nil {
		return err
	}

	if m.recorder != nil {
		m.recorder.RecordViewerConnect(e.URL, clientIP)
		defer m.recorder.RecordViewerDisconnect(e.URL, clientIP)
	}

	hookCtx := hooks.Context{Vhost: e.Vhost, App: e.App, Stream: e.Stream, ClientIP: clientIP}

	playHooks, stopHooks := m.hookURLs(e.Vhost)
	playedOK := false
	if m.dispatcher != nil && len(playHooks) > 0 {
		hookCtx.Event = hooks.EventOnPlay
		if err := m.dispatcher.FireHTTPHooks(ctx, playHooks, hookCtx); err != nil {
			return fmt.Errorf("httpremux: on_play hook rejected viewer: %w", err)
		}
	}
	playedOK = true

	e.mu.Lock()
	disposing := e.disposing
	e.mu.Unlock()
	if disposing {
		if playedOK && m.dispatcher != nil && len(stopHooks) > 0 {
			hookCtx.Event = hooks.EventOnStop
			_ = m.dispatcher.FireHTTPHooks(ctx, stopHooks, hookCtx)
		}
		return ErrStreamNotFound
	}

	if err := e.cache.AttachViewer(viewerID, muxer); err != nil {
		return fmt.Errorf("httpremux: attach viewer: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	e.cache.DetachViewer(viewerID)

	if playedOK && m.dispatcher != nil && len(stopHooks) > 0 {
		hookCtx.Event = hooks.EventOnStop
		_ = m.dispatcher.FireHTTPHooks(ctx, stopHooks, hookCtx)
	}
	return nil
}

func (m *Mounts) hookURLs(vhost string) (play, stop []string) {
	if m.cfg == nil || !m.cfg.GetVhostHTTPHooksEnabled(vhost) {
		return nil, nil
	}
	return m.cfg.GetVhostOnPlay(vhost), m.cfg.GetVhostOnStop(vhost)
}
