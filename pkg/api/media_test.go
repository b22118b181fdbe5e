package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringcast/mediacore/pkg/stream"
)

func TestHandleMediaServesMountedFLVStream(t *testing.T) {
	s := newTestServer(t)
	src := stream.NewSource("rtmp://x/app/stream", 64, nil)
	_, err := s.mounts.Mount("__defaultVhost__", "app", "stream", "flv", src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/app/stream.flv", nil).WithContext(ctx)
	req.RemoteAddr = "10.0.0.5:4321"

	done := make(chan struct{})
	go func() {
		s.handleMedia(rec, req)
		close(done)
	}()

	// handleMedia blocks for the viewer's lifetime; cancel the request
	// context to unwind it, the same way a client disconnect would.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleMedia did not return")
	}

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "video/x-flv", rec.Header().Get("Content-Type"))
}

func TestHandleMediaUnknownPathReportsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/app/missing.flv", nil)
	s.handleMedia(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestContentTypeForExt(t *testing.T) {
	cases := map[string]string{
		"flv": "video/x-flv",
		"ts":  "video/mp2t",
		"aac": "audio/aac",
		"mp3": "audio/mpeg",
		"xyz": "application/octet-stream",
	}
	for ext, want := range cases {
		assert.Equal(t, want, contentTypeForExt(ext))
	}
}
