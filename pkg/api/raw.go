package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ringcast/mediacore/pkg/apperr"
)

// rawUpgrader upgrades raw-channel subscriptions. CheckOrigin is
// permissive because this endpoint is meant for trusted operator
// tooling on an internal network, the same posture spec.md §4.10
// describes for the raw rpc channel as a whole.
var rawUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// rawSubscribers fans a raw-channel event out to every websocket client
// currently subscribed via rpc=raw, mirroring the broadcast-over-
// per-client-channel shape used for the websocket hub in this pack.
type rawSubscribers struct {
	mu      sync.Mutex
	clients map[*rawClient]struct{}
}

type rawClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newRawSubscribers() *rawSubscribers {
	return &rawSubscribers{clients: make(map[*rawClient]struct{})}
}

func (s *rawSubscribers) add(c *rawClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *rawSubscribers) remove(c *rawClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// broadcast pushes payload to every subscribed client, dropping it for
// any client whose send buffer is full rather than blocking the caller.
func (s *rawSubscribers) broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// handleRaw serves the rpc=raw|reload|reload-fetch config channel,
// per spec.md §4.10: raw dumps the effective configuration, reload
// broadcasts a reload_requested event to the websocket subscribers and
// answers "accepted" (the configuration itself is not re-read here),
// and reload-fetch always answers "idle". Both reload verbs require
// GetRawAPIAllowReload, in
// addition to the blanket GetRawAPIEnabled gate every rpc verb needs.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || !s.cfg.GetRawAPIEnabled() {
		s.writeError(w, r, apperr.New(apperr.RawAPIDisabled, "raw api is disabled"))
		return
	}

	rpc := r.URL.Query().Get("rpc")
	switch rpc {
	case "", "raw":
		s.writeNamed(w, r, map[string]interface{}{"raw": s.rawConfigSnapshot()})
	case "reload":
		if !s.cfg.GetRawAPIAllowReload() {
			s.writeError(w, r, apperr.New(apperr.RawAPIReloadDisabled, "raw api reload is disabled"))
			return
		}
		s.rawSubs.broadcast([]byte(`{"event":"reload_requested"}`))
		s.writeNamed(w, r, map[string]interface{}{"reload": "accepted"})
	case "reload-fetch":
		if !s.cfg.GetRawAPIAllowReload() {
			s.writeError(w, r, apperr.New(apperr.RawAPIReloadDisabled, "raw api reload is disabled"))
			return
		}
		s.writeNamed(w, r, map[string]interface{}{"reload_fetch": "idle"})
	default:
		s.writeError(w, r, apperr.New(apperr.InvalidRequest, "unknown rpc verb"))
	}
}

// rawConfigSnapshot reports the subset of effective configuration the
// raw facet is allowed to echo back: the knobs this process actually
// reads, not a full file dump, since nothing in config.Provider
// exposes the raw file bytes.
func (s *Server) rawConfigSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"stream_caster_listen": s.cfg.GetStreamCasterListen(),
		"stream_caster_output": s.cfg.GetStreamCasterOutput(),
		"raw_api_allow_reload": s.cfg.GetRawAPIAllowReload(),
		"heartbeat_enabled":    s.cfg.GetHeartbeatEnabled(),
	}
}

// handleRawWebsocket upgrades to a websocket push channel that receives
// every subsequent rpc=reload broadcast, so an operator console can
// watch reloads happen without polling rpc=reload-fetch.
func (s *Server) handleRawWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || !s.cfg.GetRawAPIEnabled() {
		http.Error(w, "raw api is disabled", http.StatusForbidden)
		return
	}

	conn, err := rawUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("raw websocket upgrade failed", "error", err)
		return
	}

	client := &rawClient{conn: conn, send: make(chan []byte, 16)}
	s.rawSubs.add(client)
	defer s.rawSubs.remove(client)

	go func() {
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Drain and discard inbound frames; this channel is push-only, but
	// reading keeps the connection's control frames (ping/close) alive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
