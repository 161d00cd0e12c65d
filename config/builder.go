package config

import (
	"net/netip"

	"github.com/rs/zerolog"

	"smartdns/ipset"
	"smartdns/rule"
)

// builder accumulates directive-file state while Load walks a file
// top-to-bottom; RuntimeConfig is assembled from it once the walk
// completes. Kept separate from RuntimeConfig itself so the public type
// stays a plain frozen value with no loader-only bookkeeping (group stack,
// accumulating IP lists, include depth).
type builder struct {
	cfg *RuntimeConfig

	groupStack []string // group-begin/group-end lexical scoping (spec §6.2)

	blacklist []netip.Prefix
	whitelist []netip.Prefix
	bogus     []netip.Prefix
	ignore    []netip.Prefix

	clientRules []rule.ClientRule

	includeDepth int

	resolvHostanmeWarned bool

	log zerolog.Logger
}

func newBuilder(log zerolog.Logger) *builder {
	return &builder{cfg: defaultRuntimeConfig(), log: log}
}

// currentGroup returns the innermost group-begin scope, or "" outside any.
func (b *builder) currentGroup() string {
	if len(b.groupStack) == 0 {
		return ""
	}
	return b.groupStack[len(b.groupStack)-1]
}

func (b *builder) finish() *RuntimeConfig {
	b.cfg.ClientRules = rule.NewClientRuleTable(b.clientRules)
	b.cfg.BlacklistIP = ipset.NewSet(b.blacklist)
	b.cfg.WhitelistIP = ipset.NewSet(b.whitelist)
	b.cfg.BogusNX = ipset.NewSet(b.bogus)
	b.cfg.IgnoreIP = ipset.NewSet(b.ignore)
	return b.cfg
}

// warnResolvHostanmeOnce logs the accepted-misspelling normalization a
// single time per Load call (spec §9 open question), not once per line —
// a config that repeats the misspelling shouldn't spam the log.
func (b *builder) warnResolvHostanmeOnce(file string, line int) {
	if b.resolvHostanmeWarned {
		return
	}
	b.resolvHostanmeWarned = true
	b.log.Warn().Str("file", file).Int("line", line).
		Msg("config: 'resolv-hostanme' is a recognized misspelling of 'resolv-hostname'; normalizing")
}
