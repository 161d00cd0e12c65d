package pipeline

import (
	"context"

	"github.com/miekg/dns"

	"smartdns/rule"
)

// ClientRuleMW binds the query's client IP to a ClientRule and applies its
// group and no-cache overrides to the context before the rest of the
// pipeline runs (spec §4.6); the rule's SpeedMode is not applied. It runs
// first in the chain: downstream
// middlewares (name-server group selection, cache no-cache gating) depend on
// the fields it sets, even though the component table in spec §2 lists
// Client-rule MW after Name-server MW by relative engineering weight, not by
// execution order — §4.6 is explicit that client-rule overrides apply
// "before the pipeline proceeds".
type ClientRuleMW struct {
	Table *rule.ClientRuleTable
}

func (mw *ClientRuleMW) Name() string { return "client-rule" }

func (mw *ClientRuleMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if mw.Table == nil || !rc.ClientIP.IsValid() {
		return nil, nil
	}
	cr := mw.Table.Match(rc.ClientIP)
	if cr == nil {
		return nil, nil
	}
	if cr.Group != "" {
		rc.ChosenGroup = cr.Group
	}
	if cr.NoCache {
		rc.NoCache = true
	}
	return nil, nil
}
