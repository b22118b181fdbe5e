package api

import (
	"net/http"
	"runtime"

	"github.com/ringcast/mediacore/pkg/httpremux"
)

// handleSummaries reports the aggregate viewer/stream counters and,
// when a circuit breaker is wired, its current water levels.
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summary := map[string]interface{}{
		"version": Version,
	}
	if s.collector != nil {
		snap := s.collector.Snapshot()
		summary["clients"] = snap.CurrentViewers
		summary["total_connects"] = snap.TotalConnects
		summary["total_closes"] = snap.TotalCloses
	}
	if s.mounts != nil {
		summary["streams"] = len(s.mounts.List())
	}
	if s.breaker != nil {
		summary["high_water_level"] = s.breaker.HighWaterLevel()
		summary["critical_water_level"] = s.breaker.CriticalWaterLevel()
		summary["dying_water_level"] = s.breaker.DyingWaterLevel()
	}
	s.writeNamed(w, r, map[string]interface{}{"summaries": summary})
}

// handleAuthors is a static facet naming this build's provenance.
func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	s.writeNamed(w, r, map[string]interface{}{
		"authors": []string{"mediacore contributors"},
	})
}

// handleFeatures reports which optional subsystems are compiled in and
// enabled, read straight off the config interface.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	features := map[string]interface{}{
		"httpremux": s.mounts != nil,
	}
	if s.cfg != nil {
		features["http_hooks"] = s.cfg.GetVhostHTTPHooksEnabled("")
		features["exec"] = s.cfg.GetExecEnabled("")
		features["raw_api"] = s.cfg.GetRawAPIEnabled()
	}
	s.writeNamed(w, r, map[string]interface{}{"features": features})
}

// handleVersions reports this build's version string.
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	s.writeNamed(w, r, map[string]interface{}{
		"versions": map[string]string{"version": Version},
	})
}

// handleRusages reports process resource usage, the Go analogue of
// SRS's getrusage()-backed facet.
func (s *Server) handleRusages(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.writeNamed(w, r, map[string]interface{}{
		"rusages": map[string]interface{}{
			"num_goroutine": runtime.NumGoroutine(),
			"num_cpu":       runtime.NumCPU(),
			"alloc_bytes":   m.Alloc,
			"sys_bytes":     m.Sys,
		},
	})
}

// handleSelfProcStats reports this process's own resource snapshot.
func (s *Server) handleSelfProcStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.writeNamed(w, r, map[string]interface{}{
		"self_proc_stats": map[string]interface{}{
			"pid":           s.info.ServicePID,
			"num_goroutine": runtime.NumGoroutine(),
			"heap_alloc":    m.HeapAlloc,
			"heap_sys":      m.HeapSys,
			"num_gc":        m.NumGC,
		},
	})
}

// handleSystemProcStats reports host-wide figures this process can see
// without a privileged sampler: GOMAXPROCS and core count stand in for
// the full /proc/stat breakdown SRS's C++ host sampler performs.
func (s *Server) handleSystemProcStats(w http.ResponseWriter, r *http.Request) {
	s.writeNamed(w, r, map[string]interface{}{
		"system_proc_stats": map[string]interface{}{
			"gomaxprocs": runtime.GOMAXPROCS(0),
			"num_cpu":    runtime.NumCPU(),
		},
	})
}

// handleMeminfos reports Go runtime memory statistics, standing in for
// the host /proc/meminfo snapshot SRS's facet of the same name exposes.
func (s *Server) handleMeminfos(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.writeNamed(w, r, map[string]interface{}{
		"meminfos": map[string]interface{}{
			"alloc":       m.Alloc,
			"total_alloc": m.TotalAlloc,
			"sys":         m.Sys,
			"heap_idle":   m.HeapIdle,
			"heap_in_use": m.HeapInuse,
		},
	})
}

// handleRequests is a placeholder facet kept for ABI parity: request
// logging itself lives in the access-log sink, not this process's
// in-memory state, so this always reports an empty list rather than
// fabricating history it never tracked.
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	s.writeNamed(w, r, map[string]interface{}{"requests": []interface{}{}})
}

// vhostSummary describes one vhost's configured hook/remux knobs, read
// straight from the config provider.
func (s *Server) vhostSummary(vhost string) map[string]interface{} {
	out := map[string]interface{}{"name": vhost}
	if s.cfg == nil {
		return out
	}
	out["http_hooks_enabled"] = s.cfg.GetVhostHTTPHooksEnabled(vhost)
	out["http_remux_enabled"] = s.cfg.GetVhostHTTPRemuxEnabled(vhost)
	out["http_remux_mount"] = s.cfg.GetVhostHTTPRemuxMount(vhost)
	out["exec_enabled"] = s.cfg.GetExecEnabled(vhost)
	return out
}

// handleVhosts lists the vhosts this process has seen mounted streams
// for, since the config provider has no "list all vhosts" method of
// its own (it is queried per name, not enumerated).
func (s *Server) handleVhosts(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	var vhosts []map[string]interface{}
	if s.mounts != nil {
		for _, e := range s.mounts.List() {
			if seen[e.Vhost] {
				continue
			}
			seen[e.Vhost] = true
			vhosts = append(vhosts, s.vhostSummary(e.Vhost))
		}
	}
	s.writeNamed(w, r, map[string]interface{}{"vhosts": vhosts})
}

// streamSummary describes one mounted HTTP-remux endpoint.
func streamSummary(e *httpremux.Entry) map[string]interface{} {
	st := e.SourceStats()
	return map[string]interface{}{
		"url":              e.URL,
		"vhost":            e.Vhost,
		"app":              e.App,
		"stream":           e.Stream,
		"ext":              e.Ext,
		"disposing":        e.Disposing(),
		"clients":          st.Consumers,
		"gop_frames":       st.GOPFrames,
		"dropped_overflow": st.DroppedOverflow,
		"dropped_slow":     st.DroppedSlow,
	}
}

// handleStreams lists every currently mounted HTTP-remux endpoint.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	var out []map[string]interface{}
	if s.mounts != nil {
		for _, e := range s.mounts.List() {
			out = append(out, streamSummary(e))
		}
	}
	s.writeNamed(w, r, map[string]interface{}{"streams": out})
}

// handleClients lists connected viewers, optionally filtered to one
// mount via the ?stream= query parameter.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.writeNamed(w, r, map[string]interface{}{"clients": []interface{}{}})
		return
	}

	mountFilter := r.URL.Query().Get("stream")
	var out []map[string]interface{}
	emit := func(mountURL string) {
		for _, v := range s.collector.ViewersByMount(mountURL) {
			out = append(out, map[string]interface{}{
				"id":           v.ClientID,
				"stream":       v.MountURL,
				"ip":           v.ClientIP,
				"connected_at": v.ConnectedAt,
			})
		}
	}
	if mountFilter != "" {
		emit(mountFilter)
	} else if s.mounts != nil {
		for _, e := range s.mounts.List() {
			emit(e.URL)
		}
	}
	s.writeNamed(w, r, map[string]interface{}{"clients": out})
}

// handleClusters is a static facet: this module has no origin-cluster
// federation feature (out of scope per SPEC_FULL.md), so it always
// reports an empty cluster list rather than fabricating peers.
func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	s.writeNamed(w, r, map[string]interface{}{"clusters": []interface{}{}})
}
