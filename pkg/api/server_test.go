package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringcast/mediacore/pkg/config"
	"github.com/ringcast/mediacore/pkg/hooks"
	"github.com/ringcast/mediacore/pkg/httpremux"
	"github.com/ringcast/mediacore/pkg/stats"
	"github.com/ringcast/mediacore/pkg/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewFileProvider()
	collector := stats.NewCollector()
	breaker := stats.NewCircuitBreaker(cfg, func() float64 { return 0 }, true)
	mounts := httpremux.NewMounts("/[app]/[stream].[ext]", func(string) time.Duration { return 0 }, cfg, hooks.NewDispatcher(nil), collector, nil)
	return NewServer(cfg, collector, breaker, mounts, testInfo(), nil, "h264")
}

func decodeEnvelope(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	return decoded
}

func TestMuxRoutesEveryFacet(t *testing.T) {
	s := newTestServer(t)
	mux := s.mux()

	paths := []string{
		"/api/v1/summaries", "/api/v1/authors", "/api/v1/features", "/api/v1/versions",
		"/api/v1/rusages", "/api/v1/self_proc_stats", "/api/v1/system_proc_stats",
		"/api/v1/meminfos", "/api/v1/requests", "/api/v1/vhosts", "/api/v1/streams",
		"/api/v1/clients", "/api/v1/clusters",
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", p, nil)
		mux.ServeHTTP(rec, req)
		assert.Equal(t, 200, rec.Code, "path %s", p)
		decoded := decodeEnvelope(t, rec.Body.Bytes())
		assert.Equal(t, float64(0), decoded["code"], "path %s", p)
	}
}

func TestHandleSummariesReportsCounters(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/summaries", nil)
	s.handleSummaries(rec, req)

	decoded := decodeEnvelope(t, rec.Body.Bytes())
	summaries, ok := decoded["summaries"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), summaries["streams"])
	assert.Equal(t, false, summaries["high_water_level"])
}

func TestHandleStreamsListsMountedEntries(t *testing.T) {
	s := newTestServer(t)
	src := stream.NewSource("rtmp://x/app/stream", 64, nil)
	_, err := s.mounts.Mount("__defaultVhost__", "app", "stream", "flv", src)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/streams", nil)
	s.handleStreams(rec, req)

	decoded := decodeEnvelope(t, rec.Body.Bytes())
	streams, ok := decoded["streams"].([]interface{})
	require.True(t, ok)
	require.Len(t, streams, 1)
	entry := streams[0].(map[string]interface{})
	assert.Equal(t, "app", entry["app"])
	assert.Equal(t, "stream", entry["stream"])
}

func TestHandleVhostsDedupesAcrossStreams(t *testing.T) {
	s := newTestServer(t)
	src1 := stream.NewSource("rtmp://x/app/a", 64, nil)
	src2 := stream.NewSource("rtmp://x/app/b", 64, nil)
	_, err := s.mounts.Mount("v1", "app", "a", "flv", src1)
	require.NoError(t, err)
	_, err = s.mounts.Mount("v1", "app", "b", "flv", src2)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/vhosts", nil)
	s.handleVhosts(rec, req)

	decoded := decodeEnvelope(t, rec.Body.Bytes())
	vhosts, ok := decoded["vhosts"].([]interface{})
	require.True(t, ok)
	assert.Len(t, vhosts, 1)
}

func TestHandleClientsFiltersByStreamQueryParam(t *testing.T) {
	s := newTestServer(t)
	s.collector.RecordViewerConnect("/app/stream.flv", "10.0.0.1")
	s.collector.RecordViewerConnect("/app/other.flv", "10.0.0.2")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/clients?stream=/app/stream.flv", nil)
	s.handleClients(rec, req)

	decoded := decodeEnvelope(t, rec.Body.Bytes())
	clients, ok := decoded["clients"].([]interface{})
	require.True(t, ok)
	require.Len(t, clients, 1)
	assert.Equal(t, "/app/stream.flv", clients[0].(map[string]interface{})["stream"])
}

func TestHandleClustersAlwaysEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/clusters", nil)
	s.handleClusters(rec, req)

	decoded := decodeEnvelope(t, rec.Body.Bytes())
	clusters, ok := decoded["clusters"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, clusters)
}

func TestStartListensAndStopsCleanly(t *testing.T) {
	s1 := newTestServer(t)
	require.NoError(t, s1.Start("127.0.0.1:0"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s1.Stop(ctx))
}

func TestStartSurfacesBindFailureSynchronously(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	s := newTestServer(t)
	err = s.Start(occupied.Addr().String())
	assert.Error(t, err)
}
