// Command mediacored is the media core's process entrypoint: it loads
// configuration, wires every component named in the system overview
// together, and serves until an interrupt or SIGTERM arrives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ringcast/mediacore/pkg/api"
	"github.com/ringcast/mediacore/pkg/buildinfo"
	"github.com/ringcast/mediacore/pkg/config"
	"github.com/ringcast/mediacore/pkg/gb28181"
	"github.com/ringcast/mediacore/pkg/hooks"
	"github.com/ringcast/mediacore/pkg/httpremux"
	"github.com/ringcast/mediacore/pkg/logger"
	"github.com/ringcast/mediacore/pkg/resource"
	"github.com/ringcast/mediacore/pkg/rtcgateway"
	mcsec "github.com/ringcast/mediacore/pkg/security"
	"github.com/ringcast/mediacore/pkg/stats"
	"github.com/ringcast/mediacore/pkg/stream"
)

func main() {
	fs := flag.NewFlagSet("mediacored", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	configPath := fs.String("config", "mediacore.conf", "path to the flat key=value configuration file")
	apiAddr := fs.String("api-addr", "0.0.0.0:1985", "address the public API and HTTP-remux edge listen on")
	mountPattern := fs.String("mount-pattern", "/[app]/[stream].[ext]", "HTTP-remux mount URL template")
	gopFrames := fs.Int("gop-frames", 256, "maximum frames retained per stream source's GOP cache")
	videoCodec := fs.String("video-codec", "h264", "video codec tag passed to GB28181 sessions and muxers")
	rtcUDPAddr := fs.String("rtc-udp-addr", "0.0.0.0:8000", "address the WebRTC RFC 7983 UDP listener binds on")
	rtcTCPAddr := fs.String("rtc-tcp-addr", "0.0.0.0:8000", "address the WebRTC RFC 4571 framed TCP listener binds on")
	rtcPublicIP := fs.String("rtc-public-ip", "127.0.0.1", "IP advertised in every ICE-lite host candidate")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "GB28181/WebRTC media ingest and HTTP-remux edge server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting mediacore", "log_config", logFlags.String())

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Warn("falling back to an empty configuration", "path", *configPath, "error", err)
		cfg = config.NewFileProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	info := buildinfo.New()
	log.Info("build identity", "server_id", info.ServerID, "service_id", info.ServiceID, "pid", info.ServicePID)

	sessions := resource.NewManager()
	defer sessions.Close()

	collector := stats.NewCollector()

	breaker := stats.NewCircuitBreaker(cfg, newProcStatCPUSampler(), true)
	breaker.Start(ctx)
	defer breaker.Stop()

	dispatcher := hooks.NewDispatcher(log)

	cacheWindow := func(vhost string) time.Duration {
		if cfg.GetVhostHTTPRemuxEnabled(vhost) {
			return 3 * time.Second
		}
		return 0
	}
	mounts := httpremux.NewMounts(*mountPattern, cacheWindow, cfg, dispatcher, collector, log)

	sourceReg := newSourceRegistry()
	newSource := func(id string) *stream.Source {
		src := stream.NewSource(id, *gopFrames, log.Logger)
		sourceReg.put(id, src)
		return src
	}

	publish := gb28181.NewPublishService(sessions, *videoCodec, newSource, log.Logger)

	rtcGW, err := rtcgateway.NewGateway(rtcgateway.Config{
		VideoCodec: *videoCodec,
		Mode:       mcsec.ModeSecure,
	}, sessions, newSource, log.Logger)
	if err != nil {
		log.Error("failed to build rtc gateway", "error", err)
		os.Exit(1)
	}

	udpLocal, err := rtcGW.ListenUDP(*rtcUDPAddr)
	if err != nil {
		log.Error("failed to bind rtc udp listener", "addr", *rtcUDPAddr, "error", err)
		os.Exit(1)
	}
	rtcGW.SetCandidates(buildRTCCandidates(*rtcPublicIP, udpLocal.Port))
	go func() {
		if err := rtcGW.ServeUDP(ctx); err != nil && ctx.Err() == nil {
			log.Warn("rtc udp listener stopped", "error", err)
		}
	}()
	go func() {
		if err := rtcGW.ListenAndServeTCP(ctx, *rtcTCPAddr); err != nil && ctx.Err() == nil {
			log.Warn("rtc tcp listener stopped", "error", err)
		}
	}()
	defer rtcGW.Close()

	apiServer := api.NewServer(cfg, collector, breaker, mounts, info, log.Logger, *videoCodec)
	apiServer.Handle("/gb/v1/publish/", publishHandler(publish, log))
	apiServer.Handle("/rtc/v1/publish/", rtcPublishHandler(rtcGW, log))

	if err := apiServer.Start(*apiAddr); err != nil {
		log.Error("failed to start API server", "error", err)
		os.Exit(1)
	}
	log.Info("api server listening", "addr", *apiAddr)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := apiServer.Stop(stopCtx); err != nil {
		log.Error("error stopping api server", "error", err)
	}

	log.Info("graceful shutdown complete")
}

// publishHandler adapts gb28181.PublishService.Publish into the
// `POST /gb/v1/publish/` endpoint named in the component's own file
// layout (publish_api.go), decoding a PublishRequest body and writing
// back the resulting PublishResponse envelope.
func publishHandler(svc *gb28181.PublishService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req gb28181.PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp, err := svc.Publish(r.Context(), req)
		if err != nil {
			log.Warn("gb28181 publish request failed", "id", req.ID, "error", err)
			resp.Code = -1
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(resp)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// buildRTCCandidates renders the one UDP and one TCP ICE-lite host
// candidate every RTC answer advertises, both pointing at publicIP:port
// since the UDP and TCP RTC listeners are configured to share a port
// by default.
func buildRTCCandidates(publicIP string, port int) []string {
	return []string{
		rtcgateway.FormatHostCandidate("1", 1, "udp", publicIP, port, 2113937151),
		rtcgateway.FormatHostCandidate("2", 1, "tcp", publicIP, port, 1509957375),
	}
}

// rtcPublishHandler adapts rtcgateway.Gateway.Offer into the
// `POST /rtc/v1/publish/` endpoint: the request body is the raw SDP
// offer, identified by the `id` query parameter, and the response
// body is the raw SDP answer.
func rtcPublishHandler(gw *rtcgateway.Gateway, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id query parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			http.Error(w, "failed to read offer body", http.StatusBadRequest)
			return
		}

		answer, err := gw.Offer(id, string(body))
		if err != nil {
			log.Warn("rtc publish request failed", "id", id, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/sdp")
		w.Write([]byte(answer))
	}
}

// sourceRegistry is a tiny in-process directory of live stream sources
// by id, letting an admin tool or future publish-trigger transport
// look one up without reaching into gb28181's own session map.
type sourceRegistry struct {
	mu      sync.Mutex
	sources map[string]*stream.Source
}

func newSourceRegistry() *sourceRegistry {
	return &sourceRegistry{sources: make(map[string]*stream.Source)}
}

func (r *sourceRegistry) put(id string, src *stream.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = src
}

// newProcStatCPUSampler builds a stats.CPUSampler reading cumulative
// CPU jiffies from /proc/stat between calls. None of the retrieval
// pack's dependencies expose a portable host CPU-percent reading (the
// transitively-available prometheus/procfs is an internal dependency
// of the metrics client, not something any pack repo imports directly
// for sampling), so this one function is hand-rolled against the
// kernel's own stable text format instead.
func newProcStatCPUSampler() func() float64 {
	var lastTotal, lastIdle uint64
	var haveLast bool

	return func() float64 {
		total, idle, err := readProcStatTotals()
		if err != nil {
			return 0
		}
		if !haveLast {
			lastTotal, lastIdle = total, idle
			haveLast = true
			return 0
		}

		deltaTotal := total - lastTotal
		deltaIdle := idle - lastIdle
		lastTotal, lastIdle = total, idle

		if deltaTotal == 0 {
			return 0
		}
		return float64(deltaTotal-deltaIdle) / float64(deltaTotal)
	}
}

func readProcStatTotals() (total, idle uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}

	var label string
	var fields [10]uint64
	n, _ := fmt.Sscanf(string(data), "%s %d %d %d %d %d %d %d %d %d %d",
		&label, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4],
		&fields[5], &fields[6], &fields[7], &fields[8], &fields[9])
	if n < 5 {
		return 0, 0, fmt.Errorf("mediacored: unexpected /proc/stat format")
	}

	for _, f := range fields {
		total += f
	}
	idle = fields[3] + fields[4] // idle + iowait
	return total, idle, nil
}
