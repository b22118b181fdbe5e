package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names and help strings are observable ABI: dashboards and
// alert rules are built against them, so they are locked by
// metrics_test.go and must never change without a deliberate migration.
var (
	viewersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_httpremux_viewers",
		Help: "Current number of connected HTTP-remux viewers.",
	})
	streamsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_httpremux_streams",
		Help: "Current number of mounted HTTP-remux streams.",
	})
	viewerConnectsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_httpremux_viewer_connects_total",
		Help: "Cumulative number of HTTP-remux viewer connections accepted.",
	})
	viewerClosesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_httpremux_viewer_closes_total",
		Help: "Cumulative number of HTTP-remux viewer connections closed.",
	})
	circuitBreakerWaterLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacore_circuit_breaker_water_level",
		Help: "Circuit breaker water level (1 if tripped, 0 otherwise), labeled by tier.",
	}, []string{"tier"})
)

// refreshGauges samples this server's live collaborators immediately
// before each scrape, since Prometheus pulls rather than having state
// pushed to it on every change.
func (s *Server) refreshGauges() {
	if s.collector != nil {
		snap := s.collector.Snapshot()
		viewersGauge.Set(float64(snap.CurrentViewers))
		viewerConnectsTotal.Set(float64(snap.TotalConnects))
		viewerClosesTotal.Set(float64(snap.TotalCloses))
	}
	if s.mounts != nil {
		streamsGauge.Set(float64(len(s.mounts.List())))
	}
	if s.breaker != nil {
		circuitBreakerWaterLevel.WithLabelValues("high").Set(boolToFloat(s.breaker.HighWaterLevel()))
		circuitBreakerWaterLevel.WithLabelValues("critical").Set(boolToFloat(s.breaker.CriticalWaterLevel()))
		circuitBreakerWaterLevel.WithLabelValues("dying").Set(boolToFloat(s.breaker.DyingWaterLevel()))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// metricsHandler exposes the Prometheus text format at /metrics.
func (s *Server) metricsHandler() http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.refreshGauges()
		inner.ServeHTTP(w, r)
	})
}
