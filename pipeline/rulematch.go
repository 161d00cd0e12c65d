package pipeline

import (
	"context"

	"github.com/miekg/dns"

	"smartdns/matcher"
	"smartdns/rule"
)

// NameMatchMW looks up the effective DomainRule for the query name and
// attaches it to the context (spec §4.1). It never produces a response
// itself; every later middleware reads rc.MatchedRule.
type NameMatchMW struct {
	Table *rule.Table
}

func (mw *NameMatchMW) Name() string { return "name-match" }

func (mw *NameMatchMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if rc.ServerOpts.NoRule || mw.Table == nil {
		return nil, nil
	}
	name := matcher.ParseName(rc.Question.Name)
	rc.MatchedRule = mw.Table.LookupEffective(name)
	return nil, nil
}
