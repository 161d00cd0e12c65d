package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() {
		r.ObserveCacheHit()
		r.ObserveCacheMiss()
		r.ObserveUpstreamExchange("1.1.1.1:53", 10*time.Millisecond, "")
		r.ObserveResponseMode("fastest-ip", "selected")
		r.ObserveQuery("NOERROR")
	})
}

func TestServerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveCacheHit()
	r.ObserveQuery("NOERROR")

	srv := NewServer("127.0.0.1:0", r)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "smartdns_cache_hits_total 1")
	require.Contains(t, body, `smartdns_pipeline_queries_total{rcode="NOERROR"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
