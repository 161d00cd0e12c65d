package cache

import "github.com/miekg/dns"

// NegativeTTL implements spec §4.2's negative-caching rule: NXDOMAIN and
// NODATA replies are cached using the SOA minimum TTL from the authority
// section (bounded by rr_ttl_min/max at Insert time), falling back to
// fallback when no SOA is present.
func NegativeTTL(msg *dns.Msg, fallback uint32) uint32 {
	for _, rr := range msg.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Minttl
		}
	}
	return fallback
}

// IsNegative reports whether msg represents an NXDOMAIN or NODATA result:
// NXDOMAIN by rcode, NODATA as a successful response with an empty answer
// section.
func IsNegative(msg *dns.Msg) bool {
	if msg.Rcode == dns.RcodeNameError {
		return true
	}
	return msg.Rcode == dns.RcodeSuccess && len(msg.Answer) == 0
}
