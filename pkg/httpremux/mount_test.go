package httpremux

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ringcast/mediacore/pkg/config"
	"github.com/ringcast/mediacore/pkg/hooks"
	"github.com/ringcast/mediacore/pkg/stream"
)

func hookRecorder(calls *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	}
}

func newTestMounts(t *testing.T, cfg config.Provider) *Mounts {
	t.Helper()
	return NewMounts("/[app]/[stream].[ext]", func(string) time.Duration { return 0 }, cfg, hooks.NewDispatcher(nil), nil, nil)
}

func TestMountURLSubstitutesPlaceholders(t *testing.T) {
	m := newTestMounts(t, nil)
	got := m.MountURL("v", "live", "cam01", "flv")
	if got != "/live/cam01.flv" {
		t.Fatalf("MountURL() = %q", got)
	}
}

func TestMountRemountReturnsSameEntry(t *testing.T) {
	m := newTestMounts(t, nil)
	src := stream.NewSource("rtmp://v/live/cam01", 64, nil)

	e1, err := m.Mount("v", "live", "cam01", "flv", src)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	e2, err := m.Mount("v", "live", "cam01", "flv", src)
	if err != nil {
		t.Fatalf("Mount() second call error = %v", err)
	}
	if e1 != e2 {
		t.Fatal("expected remount to return the same entry")
	}
}

func TestMountOnDisposingEntryFails(t *testing.T) {
	m := newTestMounts(t, nil)
	src := stream.NewSource("rtmp://v/live/cam01", 64, nil)

	e, err := m.Mount("v", "live", "cam01", "flv", src)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	m.Unmount(e.URL)

	// Unmount flips disposing synchronously even though teardown itself
	// runs async, so a mount racing it must observe ErrStreamDisposing.
	_, err = m.Mount("v", "live", "cam01", "flv", src)
	if !errors.Is(err, ErrStreamDisposing) {
		t.Fatalf("Mount() error = %v, want ErrStreamDisposing", err)
	}
}

func TestResolveUnknownURLReturnsNotFound(t *testing.T) {
	m := newTestMounts(t, nil)
	_, err := m.Resolve("/live/missing.flv")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrStreamNotFound", err)
	}
}

func TestServeViewerRunsUntilDoneAndFiresHooks(t *testing.T) {
	var playCalls, stopCalls int
	playSrv := httptest.NewServer(hookRecorder(&playCalls))
	defer playSrv.Close()
	stopSrv := httptest.NewServer(hookRecorder(&stopCalls))
	defer stopSrv.Close()

	cfg := config.NewFileProvider()
	cfg.SetVhost("v", config.VhostConfig{
		HTTPHooksEnabled: true,
		OnPlay:           []string{playSrv.URL},
		OnStop:           []string{stopSrv.URL},
	})

	m := newTestMounts(t, cfg)
	src := stream.NewSource("rtmp://v/live/cam01", 64, nil)
	e, err := m.Mount("v", "live", "cam01", "flv", src)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	// The FLV header goes out with the first write to the muxer; cached
	// metadata is replayed to the viewer on attach and triggers it.
	src.SetMetadata([]byte("meta"))

	var out bytes.Buffer
	done := make(chan struct{})
	close(done)

	if err := m.ServeViewer(context.Background(), e, "viewer-1", "127.0.0.1", &out, "h264", done); err != nil {
		t.Fatalf("ServeViewer() error = %v", err)
	}
	if playCalls != 1 {
		t.Fatalf("expected 1 on_play call, got %d", playCalls)
	}
	if stopCalls != 1 {
		t.Fatalf("expected 1 on_stop call, got %d", stopCalls)
	}
	if out.Len() == 0 {
		t.Fatal("expected FLV header bytes written to viewer")
	}
}

func TestServeViewerOnDisposingEntryReturnsNotFoundButStillStops(t *testing.T) {
	var stopCalls int
	stopSrv := httptest.NewServer(hookRecorder(&stopCalls))
	defer stopSrv.Close()

	cfg := config.NewFileProvider()
	cfg.SetVhost("v", config.VhostConfig{
		HTTPHooksEnabled: true,
		OnStop:           []string{stopSrv.URL},
	})

	m := newTestMounts(t, cfg)
	src := stream.NewSource("rtmp://v/live/cam01", 64, nil)
	e, err := m.Mount("v", "live", "cam01", "flv", src)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	m.Unmount(e.URL)

	var out bytes.Buffer
	done := make(chan struct{})
	close(done)

	err = m.ServeViewer(context.Background(), e, "viewer-1", "127.0.0.1", &out, "h264", done)
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("ServeViewer() error = %v, want ErrStreamNotFound", err)
	}
	if stopCalls != 1 {
		t.Fatalf("expected balanced on_stop call even on disposing entry, got %d", stopCalls)
	}
}
