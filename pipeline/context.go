// Package pipeline implements the middleware chain driving query resolution
// (spec §2, §4): the ordered sequence of middlewares that turn an inbound
// *dns.Msg into a response, conditioned by the domain/client rule engine
// and backed by the cache and upstream packages.
package pipeline

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"smartdns/cache"
	"smartdns/rule"
)

// ServerOpts are the per-listener flags from spec §6.2's bind syntax
// (`-group G -no-rule -no-cache`), attached to every RequestContext created
// by that listener.
type ServerOpts struct {
	Group   string
	NoRule  bool
	NoCache bool
}

// RequestContext is spec §3's RequestContext: created at pipeline entry,
// mutated only by the middleware currently holding it, discarded after
// response emission.
type RequestContext struct {
	ID uuid.UUID

	Request  *dns.Msg
	ClientIP netip.Addr
	Question dns.Question

	ServerOpts ServerOpts

	MatchedRule  *rule.DomainRule
	ChosenGroup  string
	LookupSource cache.Source

	NoCache    bool
	Background bool

	Deadline time.Time

	cnameDepth int
	visited    map[string]struct{}
}

// MaxCNAMEDepth bounds CNAME-chain recursion within one pipeline run (spec
// §4.4/§9).
const MaxCNAMEDepth = 16

// NewRequestContext builds a RequestContext for one inbound query.
func NewRequestContext(req *dns.Msg, clientIP netip.Addr, opts ServerOpts, deadline time.Time) *RequestContext {
	var q dns.Question
	if len(req.Question) > 0 {
		q = req.Question[0]
	}
	return &RequestContext{
		ID:         uuid.New(),
		Request:    req,
		ClientIP:   clientIP,
		Question:   q,
		ServerOpts: opts,
		NoCache:    opts.NoCache,
		Deadline:   deadline,
	}
}

// EnterCNAME records one CNAME hop for cycle detection, returning false if
// the chain has exceeded MaxCNAMEDepth or revisited a name.
func (rc *RequestContext) EnterCNAME(name string) bool {
	if rc.cnameDepth >= MaxCNAMEDepth {
		return false
	}
	if rc.visited == nil {
		rc.visited = make(map[string]struct{})
	}
	if _, seen := rc.visited[name]; seen {
		return false
	}
	rc.visited[name] = struct{}{}
	rc.cnameDepth++
	return true
}

// CacheKey derives the cache.Key for the current question.
func (rc *RequestContext) CacheKey() cache.Key {
	return cache.Key{Name: rc.Question.Name, Qtype: rc.Question.Qtype, Qclass: rc.Question.Qclass}
}
