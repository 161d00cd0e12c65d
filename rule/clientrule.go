package rule

import "net/netip"

// ClientRule binds a client CIDR to a rule group and a handful of per-client
// overrides (spec §4.6).
type ClientRule struct {
	CIDR      netip.Prefix
	Group     string
	NoCache   bool
	SpeedMode []SpeedProbe
}

// ClientRuleTable matches a client IP against an ordered list of CIDRs,
// first hit wins (spec §4.6) — a plain slice scan, since client-rule lists
// are small (tens of entries) and insertion order is semantically load
// bearing, unlike the domain rule table's specificity ordering.
type ClientRuleTable struct {
	rules []ClientRule
}

// NewClientRuleTable builds a table from rules in configuration order.
func NewClientRuleTable(rules []ClientRule) *ClientRuleTable {
	return &ClientRuleTable{rules: rules}
}

// Match returns the first rule whose CIDR contains ip, or nil.
func (t *ClientRuleTable) Match(ip netip.Addr) *ClientRule {
	if t == nil {
		return nil
	}
	for i := range t.rules {
		if t.rules[i].CIDR.Contains(ip) {
			return &t.rules[i]
		}
	}
	return nil
}
