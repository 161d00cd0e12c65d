// Package metrics instruments the resolver with Prometheus counters and
// histograms (spec §4.10): cache hit/miss, per-upstream exchange latency,
// and response-mode outcome. Instrumentation is optional and off by
// default — Registry works unwired (every method is a no-op on a nil
// receiver) so packages can take a *Registry without a build tag.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this resolver exposes, registered against its
// own prometheus.Registerer so multiple Registries (e.g. in tests) never
// collide on the global default registerer.
type Registry struct {
	reg *prometheus.Registry

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec

	responseModeOutcome *prometheus.CounterVec

	queriesTotal *prometheus.CounterVec
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "smartdns",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups served from a live or serve-expired entry.",
		}),
		cacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "smartdns",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that required an upstream refresh.",
		}),
		upstreamLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartdns",
			Subsystem: "upstream",
			Name:      "exchange_seconds",
			Help:      "Round-trip latency of one upstream exchange.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream", "result"}),
		upstreamErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartdns",
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Failed upstream exchanges by error kind.",
		}, []string{"upstream", "kind"}),
		responseModeOutcome: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartdns",
			Subsystem: "pipeline",
			Name:      "response_mode_outcome_total",
			Help:      "Answer-selection outcomes by configured response mode.",
		}, []string{"mode", "outcome"}),
		queriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartdns",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Queries served, by final rcode.",
		}, []string{"rcode"}),
	}
	return r
}

// ObserveCacheHit/ObserveCacheMiss record one cache lookup outcome.
func (r *Registry) ObserveCacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Registry) ObserveCacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

// ObserveUpstreamExchange records one exchange's latency and, on failure,
// its error kind (§7's ResolveErrorKind, passed through as a plain string so
// this package doesn't need to import upstream's error type).
func (r *Registry) ObserveUpstreamExchange(upstreamID string, d time.Duration, errKind string) {
	if r == nil {
		return
	}
	result := "ok"
	if errKind != "" {
		result = "error"
		r.upstreamErrors.WithLabelValues(upstreamID, errKind).Inc()
	}
	r.upstreamLatency.WithLabelValues(upstreamID, result).Observe(d.Seconds())
}

// ObserveResponseMode records one answer-selection outcome ("selected",
// "timeout", "fallback") under the configured mode.
func (r *Registry) ObserveResponseMode(mode, outcome string) {
	if r == nil {
		return
	}
	r.responseModeOutcome.WithLabelValues(mode, outcome).Inc()
}

// ObserveQuery records one served query by its final rcode name.
func (r *Registry) ObserveQuery(rcode string) {
	if r == nil {
		return
	}
	r.queriesTotal.WithLabelValues(rcode).Inc()
}

// Server exposes the registry's metrics over HTTP at /metrics.
type Server struct {
	httpSrv *http.Server
}

// NewServer builds (but does not start) an HTTP server on addr exposing
// /metrics; call ListenAndServe to run it and Shutdown to stop it. A nil
// Registry serves the process-wide default Prometheus registry rather than
// panicking — callers that don't want the endpoint simply never build a
// Server.
func NewServer(addr string, r *Registry) *Server {
	mux := http.NewServeMux()
	var handler http.Handler
	if r != nil {
		handler = promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	} else {
		handler = promhttp.Handler()
	}
	mux.Handle("/metrics", handler)
	return &Server{httpSrv: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
