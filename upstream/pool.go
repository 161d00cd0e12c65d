package upstream

import (
	"context"
	"sync"
)

// connLimiter bounds concurrent in-flight exchanges to one upstream server
// (spec §5's max_conns). An unbounded limiter (used for UDP) has a nil
// channel, which acquire and release skip entirely.
type connLimiter struct {
	sem chan struct{}
}

// newConnLimiter builds a limiter for max, where max<=0 means unbounded.
func newConnLimiter(max int) *connLimiter {
	if max <= 0 {
		return &connLimiter{}
	}
	return &connLimiter{sem: make(chan struct{}, max)}
}

// acquire blocks until a slot is available or ctx is done, returning
// ctx.Err() in the latter case. Waiting callers are neither counted nor
// capped: a full limiter does not fail fast, it waits for ctx.
func (l *connLimiter) acquire(ctx context.Context) error {
	if l.sem == nil {
		return nil
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *connLimiter) release() {
	if l.sem == nil {
		return
	}
	<-l.sem
}

// Pool owns one connLimiter per upstream server, keyed by Server.ID, and is
// shared across all queries so max_conns is enforced process-wide rather
// than per-query.
type Pool struct {
	mu       sync.Mutex
	limiters map[string]*connLimiter
}

// NewPool builds a Pool with one limiter per server, sized from each
// server's effective max_conns.
func NewPool(servers []*Server) *Pool {
	p := &Pool{limiters: make(map[string]*connLimiter, len(servers))}
	for _, s := range servers {
		p.limiters[s.ID] = newConnLimiter(s.defaultMaxConns())
	}
	return p
}

func (p *Pool) limiterFor(s *Server) *connLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[s.ID]; ok {
		return l
	}
	// Server not seen at pool construction time (e.g. added by a later
	// reload); its limiter is created on first use, sized from its own
	// max_conns like the rest.
	l := newConnLimiter(s.defaultMaxConns())
	p.limiters[s.ID] = l
	return l
}
