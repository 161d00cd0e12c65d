// Package config parses the directive-file configuration surface (spec
// §6.2) into an immutable RuntimeConfig. The wire format here is
// SmartDNS's own line-oriented directive grammar, not YAML — so unlike the
// teacher's gopkg.in/yaml.v3-backed Manager, Load hand-rolls a small
// scanner/parser over the directive grammar (see DESIGN.md's dropped-dep
// entry for yaml.v3).
package config

import (
	"fmt"
	"net/netip"
	"time"

	"smartdns/cache"
	"smartdns/ipset"
	"smartdns/rule"
	"smartdns/upstream"
)

// ConfigError reports a fatal problem found while loading a directive file:
// an unrecognized directive, a malformed value, or an unresolved reference
// (spec §7). Loading always aborts on the first ConfigError.
type ConfigError struct {
	File string
	Line int
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ListenProto is the wire protocol a listener binds, per spec §6.2's
// `bind[-tcp|-tls|-https|-quic]` directive family. Only UDP and TCP are
// actually served by this rewrite's server package; the others are parsed
// so a config carrying them fails loudly at listener-construction time
// rather than silently at parse time.
type ListenProto uint8

const (
	ListenUDP ListenProto = iota
	ListenTCP
	ListenTLS
	ListenHTTPS
	ListenQUIC
)

// Listener is one `bind*` directive: an address to serve on plus the
// per-listener ServerOpts spec §6.2 allows (`-group`, `-no-rule`,
// `-no-cache`).
type Listener struct {
	Proto   ListenProto
	Addr    string
	Group   string
	NoRule  bool
	NoCache bool
}

// RuntimeConfig is the frozen result of Load: every directive-file setting
// resolved into the concrete types the rest of the module consumes
// directly (rule.Table, upstream.Server, cache.Options, ...). Nothing
// mutates a RuntimeConfig after Load returns; a reload builds a fresh one
// and the caller swaps it in.
type RuntimeConfig struct {
	Listeners []Listener
	Servers   []*upstream.Server

	DomainRules *rule.Table
	ClientRules *rule.ClientRuleTable

	IPSets     *ipset.Registry
	DomainSets *rule.DomainSetRegistry

	HostsFiles []string

	BlacklistIP *ipset.Set
	WhitelistIP *ipset.Set
	BogusNX     *ipset.Set
	IgnoreIP    *ipset.Set

	Cache                   cache.Options
	CacheFile               string
	CacheCheckpointInterval time.Duration

	ServerName string
	Domain     string

	// LocalTTL is the TTL stamped onto answers synthesized locally rather
	// than fetched upstream: hosts-file entries, ZoneMW's self-answers, and
	// AddressRuleMW's explicit-IP/SOA answers when a domain-rule doesn't
	// set its own rr_ttl (spec §6.2's `local-ttl`).
	LocalTTL uint32

	DefaultResponseMode rule.ResponseMode
	DefaultSpeedProbe   []rule.SpeedProbe

	DualstackEnabled        bool
	DualstackThreshold      time.Duration
	DualstackAllowForceAAAA bool

	EDNSClientSubnet *netip.Prefix

	ForceAAAASOA  bool
	ForceHTTPSSOA bool
	ForceQtypeSOA map[uint16]bool

	// ResolvHostname is the normalized value of either `resolv-hostname` or
	// the commonly-seen misspelling `resolv-hostanme` (spec §9 open
	// question): both are accepted, the misspelling logged once at warn
	// level rather than silently swallowed.
	ResolvHostname string
}

// defaultRuntimeConfig seeds every field Load doesn't require a directive
// to set, matching spec §6.2/§4.2's stated defaults.
func defaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		IPSets:                  ipset.NewRegistry(),
		DomainSets:              rule.NewDomainSetRegistry(),
		DomainRules:             rule.NewTable(),
		ClientRules:             rule.NewClientRuleTable(nil),
		Cache:                   cache.DefaultOptions(),
		CacheCheckpointInterval: 0,
		DefaultResponseMode:     rule.ResponseModeFirstPing,
		DualstackThreshold:      200 * time.Millisecond,
		ForceQtypeSOA:           make(map[uint16]bool),
		LocalTTL:                60,
	}
}
