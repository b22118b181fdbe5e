// Package hooks fires the on_connect/on_publish/on_unpublish/on_play/
// on_stop HTTP callbacks and the exec-on-publish shell hook described by
// spec.md §4.9 and the config provider's get_vhost_on_play/get_exec_publishs
// family.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/ringcast/mediacore/pkg/logger"
)

// Event identifies which stream lifecycle transition a hook fires for.
type Event string

const (
	EventOnConnect   Event = "on_connect"
	EventOnPublish   Event = "on_publish"
	EventOnUnpublish Event = "on_unpublish"
	EventOnPlay      Event = "on_play"
	EventOnStop      Event = "on_stop"
)

// Context carries the identifying fields of the call a hook reports on.
// It mirrors the ClientIP/Vhost/App/Stream tuple SRS-style hook payloads
// carry, plus TCURL for on_connect.
type Context struct {
	Event    Event
	ClientIP string
	Vhost    string
	App      string
	Stream   string
	Param    string
	TCURL    string
}

// Caller fires one hook against a Context, returning an error if the
// hook's target rejected or failed to process the call.
type Caller interface {
	Call(ctx context.Context, c Context) error
}

// WebhookCaller POSTs a JSON-encoded Context to a configured URL and
// treats any non-2xx response, or a JSON {"code":N} with N != 0, as a
// rejection — the convention SRS-compatible on_play/on_stop receivers use.
type WebhookCaller struct {
	client *http.Client
}

// NewWebhookCaller builds a caller with the given per-call timeout.
func NewWebhookCaller(timeout time.Duration) *WebhookCaller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookCaller{client: &http.Client{Timeout: timeout}}
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Call posts c as JSON to url and fails the call if the hook rejects it.
func (w *WebhookCaller) Call(ctx context.Context, url string, c Context) error {
	body, err := json.Marshal(struct {
		Action   string `json:"action"`
		ClientID string `json:"client_id,omitempty"`
		IP       string `json:"ip"`
		Vhost    string `json:"vhost"`
		App      string `json:"app"`
		Stream   string `json:"stream"`
		Param    string `json:"param,omitempty"`
		TCURL    string `json:"tcUrl,omitempty"`
	}{
		Action: string(c.Event),
		IP:     c.ClientIP,
		Vhost:  c.Vhost,
		App:    c.App,
		Stream: c.Stream,
		Param:  c.Param,
		TCURL:  c.TCURL,
	})
	if err != nil {
		return fmt.Errorf("hooks: marshal callback body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hooks: build request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("hooks: call %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hooks: %s returned status %d", url, resp.StatusCode)
	}

	var parsed webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Not every deployment's hook receiver replies with a body;
		// a 2xx with no parseable JSON is treated as accepted.
		return nil
	}
	if parsed.Code != 0 {
		return fmt.Errorf("hooks: %s rejected with code %d: %s", url, parsed.Code, parsed.Msg)
	}
	return nil
}

// ExecCaller runs a shell command templated with [vhost]/[app]/[stream]
// placeholders, the exec.publish analogue of mount-pattern substitution.
type ExecCaller struct {
	timeout time.Duration
}

// NewExecCaller builds a caller whose spawned processes are killed after timeout.
func NewExecCaller(timeout time.Duration) *ExecCaller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecCaller{timeout: timeout}
}

// Run substitutes c's fields into tmpl's [vhost]/[app]/[stream] placeholders
// and runs the result through /bin/sh -c.
func (e *ExecCaller) Run(ctx context.Context, tmpl string, c Context) error {
	cmdline := ApplyTemplate(tmpl, c.Vhost, c.App, c.Stream, "")

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdline)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hooks: exec %q: %w: %s", cmdline, err, stderr.String())
	}
	return nil
}

// ApplyTemplate substitutes [vhost], [app], [stream], and [ext] placeholders
// in pattern — shared between exec hooks and HTTP-remux mount resolution.
func ApplyTemplate(pattern, vhost, app, stream, ext string) string {
	r := strings.NewReplacer(
		"[vhost]", vhost,
		"[app]", app,
		"[stream]", stream,
		"[ext]", ext,
	)
	return r.Replace(pattern)
}

// Dispatcher fans a lifecycle event out to every configured on_play/
// on_stop/exec target for a vhost, logging but not propagating individual
// hook failures except through the first error, which mount.go treats as
// cause to refuse the triggering operation (e.g. a rejecting on_play
// denies playback) per spec.md §4.9's "security check ... on_play" step.
type Dispatcher struct {
	webhook *WebhookCaller
	exec    *ExecCaller
	logger  *logger.Logger
}

// NewDispatcher builds a Dispatcher using default webhook/exec timeouts.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		webhook: NewWebhookCaller(0),
		exec:    NewExecCaller(0),
		logger:  log,
	}
}

// FireHTTPHooks calls every url in urls with c, returning the first error
// encountered (if any) after attempting all of them.
func (d *Dispatcher) FireHTTPHooks(ctx context.Context, urls []string, c Context) error {
	var firstErr error
	for _, url := range urls {
		if err := d.webhook.Call(ctx, url, c); err != nil {
			if d.logger != nil {
				d.logger.Warn("http hook call failed", "event", string(c.Event), "url", url, "error", err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// FireExecHooks runs every template in tmpls with c. Exec hooks are
// fire-and-forget: spec.md's get_exec_publishs has no rejection path, so
// failures are logged but never block the publish that triggered them.
func (d *Dispatcher) FireExecHooks(ctx context.Context, tmpls []string, c Context) {
	for _, tmpl := range tmpls {
		if err := d.exec.Run(ctx, tmpl, c); err != nil && d.logger != nil {
			d.logger.Warn("exec hook failed", "event", string(c.Event), "error", err)
		}
	}
}
