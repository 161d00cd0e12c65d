package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"smartdns/metrics"
)

// ErrUnsupportedProtocol is returned for servers whose Protocol isn't wired
// to an actual transport in this rewrite (see Protocol's doc comment).
var ErrUnsupportedProtocol = errors.New("upstream: unsupported protocol")

// Exchanger sends one query to one upstream server and returns its reply.
// The teacher talked to a single fixed upstream with a bare dns.Exchange
// call (server/dns.go); Exchanger generalizes that same call into a
// per-server, retrying, pool-bounded primitive.
type Exchanger struct {
	pool    *Pool
	Metrics *metrics.Registry // nil is fine; every Registry method no-ops
}

// NewExchanger builds an Exchanger backed by pool.
func NewExchanger(pool *Pool) *Exchanger {
	return &Exchanger{pool: pool}
}

// Exchange sends req to srv, retrying per retryAttempts/retryBackoff on
// transport failure (not on a valid-but-unhelpful reply, which is the
// caller's concern), bounded by srv's connection pool slot and by ctx.
func (ex *Exchanger) Exchange(ctx context.Context, srv *Server, req *dns.Msg) (*dns.Msg, time.Duration, error) {
	reply, rtt, err := ex.exchange(ctx, srv, req)
	if err != nil {
		kind := "unknown"
		var rerr *ResolveError
		if errors.As(err, &rerr) {
			kind = rerr.Kind.String()
		}
		ex.Metrics.ObserveUpstreamExchange(srv.ID, rtt, kind)
	} else {
		ex.Metrics.ObserveUpstreamExchange(srv.ID, rtt, "")
	}
	return reply, rtt, err
}

func (ex *Exchanger) exchange(ctx context.Context, srv *Server, req *dns.Msg) (*dns.Msg, time.Duration, error) {
	switch srv.Proto {
	case ProtocolUDP, ProtocolTCP:
	default:
		return nil, 0, newResolveError(srv.ID, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, srv.Proto))
	}

	limiter := ex.pool.limiterFor(srv)
	if err := limiter.acquire(ctx); err != nil {
		return nil, 0, newResolveError(srv.ID, err)
	}
	defer limiter.release()

	client := &dns.Client{
		Net:     srv.Proto.String(),
		Timeout: exchangeDeadline,
	}

	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff[min(attempt-1, len(retryBackoff)-1)]
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, 0, newResolveError(srv.ID, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, exchangeDeadline)
		reply, rtt, err := client.ExchangeContext(attemptCtx, req, srv.Addr())
		cancel()
		if err == nil {
			return reply, rtt, nil
		}
		lastErr = err
	}
	return nil, 0, newResolveError(srv.ID, lastErr)
}
