// Package rule implements the DomainRule bag (spec §3), its field-wise merge
///inheritance (spec §9), the client-rule CIDR gate (spec §4.6), and the
// domain-rule table built on top of matcher.RuleTable.
package rule

import (
	"net/netip"

	"smartdns/matcher"
)

// AddressKind enumerates the forced-answer / SOA-synthesis codes recognized
// by the `address` directive (spec §3, §4.4).
type AddressKind uint8

const (
	AddressIPv4 AddressKind = iota
	AddressIPv6
	AddressSOA    // "#": synthesize SOA for all qtypes
	AddressSOAv4  // "#4": SOA only for A
	AddressSOAv6  // "#6": SOA only for AAAA
	AddressIgnore // "-": fall through (ignore) for all qtypes
	AddressIgnV4  // "-4": fall through (ignore) for A
	AddressIgnV6  // "-6": fall through (ignore) for AAAA
)

// AddressValue is the resolved value of a `address` directive.
type AddressValue struct {
	Kind AddressKind
	IP   netip.Addr // only meaningful for AddressIPv4 / AddressIPv6
}

// ResponseMode selects the upstream answer-selection policy (spec §4.3).
type ResponseMode uint8

const (
	ResponseModeUnset ResponseMode = iota
	ResponseModeFirstPing
	ResponseModeFastestIP
	ResponseModeFastestResponse
)

func (m ResponseMode) String() string {
	switch m {
	case ResponseModeFirstPing:
		return "first-ping"
	case ResponseModeFastestIP:
		return "fastest-ip"
	case ResponseModeFastestResponse:
		return "fastest-response"
	default:
		return "unset"
	}
}

// SpeedProbeKind enumerates the reachability probes (spec §4.3).
type SpeedProbeKind uint8

const (
	SpeedProbeNone SpeedProbeKind = iota
	SpeedProbeICMP
	SpeedProbeTCP
	SpeedProbeHTTP
)

// SpeedProbe is one configured probe, e.g. "tcp:80".
type SpeedProbe struct {
	Kind SpeedProbeKind
	Port uint16 // for TCP/HTTP
}

// NFTSetBinding names an nftables set a successful answer's addresses should
// be pushed into (spec §4.7); the nftables call itself is an OS-integration
// sink outside the core (spec §1) — DomainRule only records the binding.
type NFTSetBinding struct {
	Family string // "inet", "ip", "ip6"
	Table  string
	Set    string
}

// DomainRule is the optional-policy bag attached to a domain pattern (spec
// §3). Every field is a pointer/nil-able so that Merge can tell "explicitly
// set to this value" apart from "inherit from the less-specific ancestor".
type DomainRule struct {
	Address *AddressValue

	Nameserver     string
	SpeedCheckMode []SpeedProbe
	ResponseMode   ResponseMode

	DualstackSelection *bool
	NoCache            *bool
	NoServeExpired     *bool
	ForceAAAASOA       *bool
	ForceHTTPSSOA      *bool

	RRTTL         *uint32
	RRTTLMin      *uint32
	RRTTLMax      *uint32
	RRTTLReplyMax *uint32

	CNAME string

	NFTSetV4 *NFTSetBinding
	NFTSetV6 *NFTSetBinding

	Subnet *netip.Prefix
}

// Merge folds child's explicitly-set fields over parent's, producing the
// effective rule for a query that matched both (parent is the less-specific
// ancestor, child the more-specific one) — spec §9's
// `DomainRule::merge(parent, child)`. Neither input is mutated.
func Merge(parent, child *DomainRule) *DomainRule {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}
	out := *parent

	if child.Address != nil {
		out.Address = child.Address
	}
	if child.Nameserver != "" {
		out.Nameserver = child.Nameserver
	}
	if len(child.SpeedCheckMode) > 0 {
		out.SpeedCheckMode = child.SpeedCheckMode
	}
	if child.ResponseMode != ResponseModeUnset {
		out.ResponseMode = child.ResponseMode
	}
	if child.DualstackSelection != nil {
		out.DualstackSelection = child.DualstackSelection
	}
	if child.NoCache != nil {
		out.NoCache = child.NoCache
	}
	if child.NoServeExpired != nil {
		out.NoServeExpired = child.NoServeExpired
	}
	if child.ForceAAAASOA != nil {
		out.ForceAAAASOA = child.ForceAAAASOA
	}
	if child.ForceHTTPSSOA != nil {
		out.ForceHTTPSSOA = child.ForceHTTPSSOA
	}
	if child.RRTTL != nil {
		out.RRTTL = child.RRTTL
	}
	if child.RRTTLMin != nil {
		out.RRTTLMin = child.RRTTLMin
	}
	if child.RRTTLMax != nil {
		out.RRTTLMax = child.RRTTLMax
	}
	if child.RRTTLReplyMax != nil {
		out.RRTTLReplyMax = child.RRTTLReplyMax
	}
	if child.CNAME != "" {
		out.CNAME = child.CNAME
	}
	if child.NFTSetV4 != nil {
		out.NFTSetV4 = child.NFTSetV4
	}
	if child.NFTSetV6 != nil {
		out.NFTSetV6 = child.NFTSetV6
	}
	if child.Subnet != nil {
		out.Subnet = child.Subnet
	}
	return &out
}

// MergeChain folds a LookupChain result (ordered least to most specific)
// into one effective rule. Returns nil if chain is empty.
func MergeChain(chain []*DomainRule) *DomainRule {
	var eff *DomainRule
	for _, r := range chain {
		eff = Merge(eff, r)
	}
	return eff
}

// Table is the domain-rule lookup structure: a matcher.RuleTable specialized
// to *DomainRule, with domain-set members flattened in at load time (spec
// §4.1's "domain-set domains are flattened into the same trie at load time").
type Table struct {
	trie *matcher.RuleTable[*DomainRule]
}

// NewTable returns an empty rule table.
func NewTable() *Table {
	return &Table{trie: matcher.NewRuleTable[*DomainRule]()}
}

// Insert binds a single WildcardName pattern to r.
func (t *Table) Insert(w matcher.WildcardName, r *DomainRule) {
	t.trie.Insert(w, r)
}

// InsertSet flattens every pattern in a resolved domain-set, binding each to
// the same rule r.
func (t *Table) InsertSet(patterns []matcher.WildcardName, r *DomainRule) {
	for _, w := range patterns {
		t.trie.Insert(w, r)
	}
}

// Lookup returns the single most specific matching rule for name.
func (t *Table) Lookup(name matcher.Name) (*DomainRule, bool) {
	return t.trie.Lookup(name)
}

// LookupEffective returns the field-wise merge of every matching ancestor
// rule (spec §9 inheritance), or nil if nothing matched.
func (t *Table) LookupEffective(name matcher.Name) *DomainRule {
	return MergeChain(t.trie.LookupChain(name))
}
