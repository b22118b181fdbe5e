package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ringcast/mediacore/pkg/apperr"
	"github.com/ringcast/mediacore/pkg/buildinfo"
)

// Envelope is the shape spec.md §4.10 requires every API response to
// take: `{code, server, service, pid, data|<named>}`. Named carries any
// facet-specific top-level key (e.g. "streams", "vhosts") in addition
// to, or instead of, the generic Data field.
type Envelope struct {
	Code    apperr.Code            `json:"code"`
	Server  string                 `json:"server"`
	Service string                 `json:"service"`
	PID     int                    `json:"pid"`
	Data    interface{}            `json:"data,omitempty"`
	Named   map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Named's keys alongside the envelope's fixed
// fields, so a facet can respond with e.g. {"code":0,...,"vhosts":[...]}
// instead of nesting everything under "data".
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":    e.Code,
		"server":  e.Server,
		"service": e.Service,
		"pid":     e.PID,
	}
	if e.Data != nil {
		out["data"] = e.Data
	}
	for k, v := range e.Named {
		out[k] = v
	}
	return json.Marshal(out)
}

// newEnvelope builds an Envelope stamped with info's identity triple.
func newEnvelope(info buildinfo.Info, code apperr.Code) Envelope {
	return Envelope{
		Code:    code,
		Server:  info.ServerID,
		Service: info.ServiceID,
		PID:     info.ServicePID,
	}
}

// writeEnvelope serializes env as JSON, or as JSONP (`callback({...})`,
// Content-Type text/javascript) when r carries a non-empty `callback`
// query parameter, per spec.md §4.10/§6.
func writeEnvelope(w http.ResponseWriter, r *http.Request, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	if callback := r.URL.Query().Get("callback"); callback != "" {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s(%s)", callback, body)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeData responds with a successful envelope carrying data under
// the generic "data" key.
func (s *Server) writeData(w http.ResponseWriter, r *http.Request, data interface{}) {
	env := newEnvelope(s.info, apperr.Success)
	env.Data = data
	writeEnvelope(w, r, env)
}

// writeNamed responds with a successful envelope carrying values under
// their own top-level keys (e.g. {"vhosts": [...]}).
func (s *Server) writeNamed(w http.ResponseWriter, r *http.Request, named map[string]interface{}) {
	env := newEnvelope(s.info, apperr.Success)
	env.Named = named
	writeEnvelope(w, r, env)
}

// writeError responds with a failing envelope: code is derived from
// err via apperr.CodeOf, and err is logged but never serialized
// verbatim into the response body, matching spec.md §7's "the API
// layer frees errors it surfaces" policy — the caller only ever sees a
// stable numeric code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	if s.logger != nil {
		s.logger.Warn("api request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	env := newEnvelope(s.info, code)
	writeEnvelope(w, r, env)
}
