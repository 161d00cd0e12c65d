// Package upstream implements the upstream connection pool, parallel
// dispatch, answer selection, and active speed-testing described in spec
// §4.3 and §5.
package upstream

import (
	"fmt"
	"net/netip"
	"time"

	"smartdns/ipset"
)

// Protocol is the wire transport used to reach an upstream server. Only UDP
// and TCP are actually exchanged over by this rewrite; TLS/HTTPS/QUIC/mDNS
// are named per spec §6.1 as external transports the core treats as an
// abstract "exchange one message" primitive — ProtocolTLS etc. exist here so
// config parsing and group expansion are complete, but Exchanger.Exchange
// returns ErrUnsupportedProtocol for them (see client.go).
type Protocol uint8

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
	ProtocolTLS
	ProtocolHTTPS
	ProtocolQUIC
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolTLS:
		return "tls"
	case ProtocolHTTPS:
		return "https"
	case ProtocolQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// TLSOpts carries the handful of TLS knobs a DoT/DoH/DoQ upstream needs.
type TLSOpts struct {
	ServerName         string
	InsecureSkipVerify bool
	CAFile             string
}

// Server is an immutable description of one upstream name server (spec §3's
// UpstreamServer). It never changes after config load; reconfiguration swaps
// in a new *Server rather than mutating this one.
type Server struct {
	ID       string
	Proto    Protocol
	Host     string // hostname or literal IP
	Port     uint16
	Path     string // DoH path, e.g. "/dns-query"
	SNI      string
	GroupTags     map[string]struct{}
	ExcludeDefault bool

	BootstrapAddrs []netip.Addr
	BindAddr       *netip.Addr
	ProxyURL       string
	TLSOpts        TLSOpts
	EDNSClientSubnet *netip.Prefix

	BlacklistIP *ipset.IpOrSet
	WhitelistIP *ipset.IpOrSet

	MaxConns int // 0 = use protocol default (16 for stream, unbounded for UDP)
}

// Addr returns the dial target "host:port".
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// InGroup reports whether s carries the named group tag.
func (s *Server) InGroup(group string) bool {
	_, ok := s.GroupTags[group]
	return ok
}

// defaultMaxConns returns the effective connection cap for s's protocol
// (spec §5: "16 for stream protocols, unbounded for UDP").
func (s *Server) defaultMaxConns() int {
	if s.MaxConns > 0 {
		return s.MaxConns
	}
	if s.Proto == ProtocolUDP {
		return 0 // unbounded
	}
	return 16
}

// GroupSet maps a group name to its member servers, including the implicit
// "default" group (every server without ExcludeDefault) per spec §4.3.
type GroupSet struct {
	groups map[string][]*Server
}

// NewGroupSet builds a GroupSet from the full server list. Servers may
// appear in multiple named groups via GroupTags; exclude_default servers
// appear only in their explicit groups.
func NewGroupSet(servers []*Server) *GroupSet {
	gs := &GroupSet{groups: make(map[string][]*Server)}
	for _, s := range servers {
		if !s.ExcludeDefault {
			gs.groups["default"] = append(gs.groups["default"], s)
		}
		for tag := range s.GroupTags {
			gs.groups[tag] = append(gs.groups[tag], s)
		}
	}
	return gs
}

// Group returns the named group's members, or nil if the group is empty or
// unknown.
func (gs *GroupSet) Group(name string) []*Server {
	if gs == nil {
		return nil
	}
	return gs.groups[name]
}

// Resolve expands the three-tier group-selection rule from spec §4.3/§9:
// domain-rule nameserver group wins over client-rule group, which wins over
// "default".
func (gs *GroupSet) Resolve(domainGroup, clientGroup string) []*Server {
	if domainGroup != "" {
		if members := gs.Group(domainGroup); len(members) > 0 {
			return members
		}
	}
	if clientGroup != "" {
		if members := gs.Group(clientGroup); len(members) > 0 {
			return members
		}
	}
	return gs.Group("default")
}

// exchangeDeadline is the default overall deadline for one upstream exchange
// (spec §4.3).
const exchangeDeadline = 5 * time.Second

// retryAttempts and retryBackoff implement spec §4.3's "per-attempt retry
// (default 2 attempts, exponential backoff 100ms->400ms)".
const retryAttempts = 2

var retryBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}
