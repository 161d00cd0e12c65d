package config

import (
	"fmt"
	"os"
	"strings"

	"smartdns/ipset"
	"smartdns/rule"
)

// dispatch applies one already-tokenized directive line to b, returning a
// plain error (the caller wraps it in a ConfigError with file/line).
func dispatch(b *builder, file string, lineNo int, directive string, fields []string) error {
	switch directive {
	case "server":
		return handleServer(b, "", fields)
	case "server-tcp":
		return handleServer(b, "tcp", fields)
	case "server-tls":
		return handleServer(b, "tls", fields)
	case "server-https":
		return handleServer(b, "https", fields)
	case "server-quic":
		return handleServer(b, "quic", fields)

	case "address":
		return handleAddress(b, fields)
	case "domain-rules":
		return handleDomainRules(b, fields)
	case "nameserver":
		return handleNameserver(b, fields)

	case "domain-set":
		return handleDomainSet(b, fields)
	case "ip-set":
		return handleIPSet(b, fields)

	case "client-rule":
		return handleClientRule(b, fields)

	case "cache-size":
		return handleCacheSize(b, fields)
	case "cache-persist":
		return handleCachePersist(b, fields)
	case "cache-file":
		return requireOne(fields, func(v string) error { b.cfg.CacheFile = v; return nil })
	case "cache-checkpoint-time":
		return requireOne(fields, func(v string) error {
			d, err := parseSeconds(v)
			if err != nil {
				return err
			}
			b.cfg.CacheCheckpointInterval = d
			return nil
		})

	case "rr-ttl":
		return requireOne(fields, func(v string) error {
			n, err := parseUint32(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.RRTTLMin = n
			b.cfg.Cache.RRTTLMax = n
			return nil
		})
	case "local-ttl":
		return requireOne(fields, func(v string) error {
			n, err := parseUint32(v)
			if err != nil {
				return err
			}
			b.cfg.LocalTTL = n
			return nil
		})
	case "rr-ttl-min":
		return requireOne(fields, func(v string) error {
			n, err := parseUint32(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.RRTTLMin = n
			return nil
		})
	case "rr-ttl-max":
		return requireOne(fields, func(v string) error {
			n, err := parseUint32(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.RRTTLMax = n
			return nil
		})
	case "rr-ttl-reply-max":
		return requireOne(fields, func(v string) error {
			n, err := parseUint32(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.RRTTLReplyMax = n
			return nil
		})

	case "prefetch-domain":
		return requireOne(fields, func(v string) error {
			bv, err := parseBool(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.PrefetchDomain = bv
			return nil
		})
	case "serve-expired":
		return requireOne(fields, func(v string) error {
			bv, err := parseBool(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.ServeExpired = bv
			return nil
		})
	case "serve-expired-ttl":
		return requireOne(fields, func(v string) error {
			d, err := parseSeconds(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.ServeExpiredTTL = d
			return nil
		})
	case "serve-expired-reply-ttl":
		return requireOne(fields, func(v string) error {
			d, err := parseSeconds(v)
			if err != nil {
				return err
			}
			b.cfg.Cache.ServeExpiredReplyTTL = d
			return nil
		})

	case "speed-check-mode":
		return requireOne(fields, func(v string) error {
			probes, err := parseSpeedProbes(v)
			if err != nil {
				return err
			}
			b.cfg.DefaultSpeedProbe = probes
			return nil
		})
	case "response-mode":
		return requireOne(fields, func(v string) error {
			m, err := parseResponseMode(v)
			if err != nil {
				return err
			}
			b.cfg.DefaultResponseMode = m
			return nil
		})

	case "dualstack-ip-selection":
		return requireOne(fields, func(v string) error {
			bv, err := parseBool(v)
			if err != nil {
				return err
			}
			b.cfg.DualstackEnabled = bv
			return nil
		})
	case "dualstack-ip-selection-threshold":
		return requireOne(fields, func(v string) error {
			d, err := parseMillis(v)
			if err != nil {
				return err
			}
			b.cfg.DualstackThreshold = d
			return nil
		})
	case "dualstack-ip-allow-force-AAAA":
		return requireOne(fields, func(v string) error {
			bv, err := parseBool(v)
			if err != nil {
				return err
			}
			b.cfg.DualstackAllowForceAAAA = bv
			return nil
		})

	case "edns-client-subnet":
		return requireOne(fields, func(v string) error {
			p, err := ipset.ParseCIDROrIP(v)
			if err != nil {
				return err
			}
			b.cfg.EDNSClientSubnet = &p
			return nil
		})
	case "force-AAAA-SOA":
		b.cfg.ForceAAAASOA = true
		return nil
	case "force-HTTPS-SOA":
		b.cfg.ForceHTTPSSOA = true
		return nil
	case "force-qtype-soa":
		return requireOne(fields, func(v string) error {
			qt, err := parseQtype(v)
			if err != nil {
				return err
			}
			b.cfg.ForceQtypeSOA[qt] = true
			return nil
		})

	case "blacklist-ip":
		return requireOne(fields, func(v string) error {
			p, err := ipset.ParseCIDROrIP(v)
			if err != nil {
				return err
			}
			b.blacklist = append(b.blacklist, p)
			return nil
		})
	case "whitelist-ip":
		return requireOne(fields, func(v string) error {
			p, err := ipset.ParseCIDROrIP(v)
			if err != nil {
				return err
			}
			b.whitelist = append(b.whitelist, p)
			return nil
		})
	case "bogus-nxdomain":
		return requireOne(fields, func(v string) error {
			p, err := ipset.ParseCIDROrIP(v)
			if err != nil {
				return err
			}
			b.bogus = append(b.bogus, p)
			return nil
		})
	case "ignore-ip":
		return requireOne(fields, func(v string) error {
			p, err := ipset.ParseCIDROrIP(v)
			if err != nil {
				return err
			}
			b.ignore = append(b.ignore, p)
			return nil
		})

	case "hosts-file":
		return requireOne(fields, func(v string) error {
			b.cfg.HostsFiles = append(b.cfg.HostsFiles, v)
			return nil
		})

	case "server-name":
		return requireOne(fields, func(v string) error { b.cfg.ServerName = v; return nil })
	case "domain":
		return requireOne(fields, func(v string) error { b.cfg.Domain = v; return nil })

	case "resolv-hostname":
		return requireOne(fields, func(v string) error { b.cfg.ResolvHostname = v; return nil })
	case "resolv-hostanme":
		return requireOne(fields, func(v string) error {
			b.warnResolvHostanmeOnce(file, lineNo)
			b.cfg.ResolvHostname = v
			return nil
		})

	case "conf-file":
		return requireOne(fields, func(v string) error {
			return loadIncludeFile(b, resolveIncludePath(file, v))
		})

	case "group-begin":
		return requireOne(fields, func(v string) error {
			b.groupStack = append(b.groupStack, v)
			return nil
		})
	case "group-end":
		if len(b.groupStack) == 0 {
			return fmt.Errorf("group-end without a matching group-begin")
		}
		b.groupStack = b.groupStack[:len(b.groupStack)-1]
		return nil

	case "bind":
		return handleBind(b, ListenUDP, fields)
	case "bind-tcp":
		return handleBind(b, ListenTCP, fields)
	case "bind-tls":
		return handleBind(b, ListenTLS, fields)
	case "bind-https":
		return handleBind(b, ListenHTTPS, fields)
	case "bind-quic":
		return handleBind(b, ListenQUIC, fields)

	default:
		return fmt.Errorf("unrecognized directive %q", directive)
	}
}

// requireOne is a small helper for directives shaped "directive VALUE":
// fails with a clear message when the value is missing, otherwise hands the
// first field to fn.
func requireOne(fields []string, fn func(string) error) error {
	if len(fields) == 0 {
		return fmt.Errorf("missing value")
	}
	return fn(fields[0])
}

func handleCacheSize(b *builder, fields []string) error {
	return requireOne(fields, func(v string) error {
		n, err := parseUint32(v)
		if err != nil {
			return err
		}
		b.cfg.Cache.Capacity = int(n)
		return nil
	})
}

func handleCachePersist(b *builder, fields []string) error {
	return requireOne(fields, func(v string) error {
		bv, err := parseBool(v)
		if err != nil {
			return err
		}
		// cache-persist enables loading/saving the snapshot at the path set
		// by `cache-file`; persistence itself (Checkpoint) is wired by the
		// caller from CacheFile being non-empty, so an explicit "no" clears
		// any cache-file set before this line; "yes" changes nothing.
		if !bv {
			b.cfg.CacheFile = ""
		}
		return nil
	})
}

func handleDomainSet(b *builder, fields []string) error {
	name, ok := flagValue(fields, "-name")
	if !ok {
		return fmt.Errorf("domain-set: missing -name")
	}
	path, ok := flagValue(fields, "-file")
	if !ok {
		return fmt.Errorf("domain-set: missing -file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("domain-set %q: %w", name, err)
	}
	defer f.Close()
	set, err := rule.LoadDomainSet(f)
	if err != nil {
		return fmt.Errorf("domain-set %q: %w", name, err)
	}
	b.cfg.DomainSets.Put(name, set)
	return nil
}

func handleIPSet(b *builder, fields []string) error {
	name, ok := flagValue(fields, "-name")
	if !ok {
		return fmt.Errorf("ip-set: missing -name")
	}
	path, ok := flagValue(fields, "-file")
	if !ok {
		return fmt.Errorf("ip-set: missing -file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ip-set %q: %w", name, err)
	}
	defer f.Close()
	set, err := ipset.LoadSet(f)
	if err != nil {
		return fmt.Errorf("ip-set %q: %w", name, err)
	}
	b.cfg.IPSets.Put(name, set)
	return nil
}

func handleAddress(b *builder, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("address: expected /pattern/ value")
	}
	dom, err := rule.ParseDomain(stripSlashes(fields[0]))
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	addr, err := parseAddressValue(fields[1])
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	patterns := dom.Resolve(b.cfg.DomainSets)
	if patterns == nil {
		return fmt.Errorf("address: unresolved domain reference %q", fields[0])
	}
	b.cfg.DomainRules.InsertSet(patterns, &rule.DomainRule{Address: addr})
	return nil
}

func handleNameserver(b *builder, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("nameserver: expected /pattern/ group")
	}
	dom, err := rule.ParseDomain(stripSlashes(fields[0]))
	if err != nil {
		return fmt.Errorf("nameserver: %w", err)
	}
	patterns := dom.Resolve(b.cfg.DomainSets)
	if patterns == nil {
		return fmt.Errorf("nameserver: unresolved domain reference %q", fields[0])
	}
	b.cfg.DomainRules.InsertSet(patterns, &rule.DomainRule{Nameserver: fields[1]})
	return nil
}

// handleDomainRules parses `domain-rules /pattern/ [-flag value...]`
// (spec §6.2), building one DomainRule from whichever flags are present.
func handleDomainRules(b *builder, fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("domain-rules: expected /pattern/")
	}
	dom, err := rule.ParseDomain(stripSlashes(fields[0]))
	if err != nil {
		return fmt.Errorf("domain-rules: %w", err)
	}
	rest := fields[1:]
	r := &rule.DomainRule{}

	if v, ok := flagValue(rest, "-address"); ok {
		addr, err := parseAddressValue(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.Address = addr
	}
	if v, ok := flagValue(rest, "-nameserver"); ok {
		r.Nameserver = v
	}
	if v, ok := flagValue(rest, "-speed-check-mode"); ok {
		probes, err := parseSpeedProbes(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.SpeedCheckMode = probes
	}
	if v, ok := flagValue(rest, "-response-mode"); ok {
		m, err := parseResponseMode(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.ResponseMode = m
	}
	if v, ok := flagValue(rest, "-cname"); ok {
		r.CNAME = v
	}
	if v, ok := flagValue(rest, "-rr-ttl"); ok {
		n, err := parseUint32(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.RRTTL = &n
	}
	if v, ok := flagValue(rest, "-rr-ttl-min"); ok {
		n, err := parseUint32(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.RRTTLMin = &n
	}
	if v, ok := flagValue(rest, "-rr-ttl-max"); ok {
		n, err := parseUint32(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.RRTTLMax = &n
	}
	if v, ok := flagValue(rest, "-rr-ttl-reply-max"); ok {
		n, err := parseUint32(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.RRTTLReplyMax = &n
	}
	if hasFlag(rest, "-no-cache") {
		t := true
		r.NoCache = &t
	}
	if hasFlag(rest, "-no-serve-expired") {
		t := true
		r.NoServeExpired = &t
	}
	if v, ok := flagValue(rest, "-dualstack-ip-selection"); ok {
		bv, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.DualstackSelection = &bv
	}
	if hasFlag(rest, "-force-AAAA-SOA") {
		t := true
		r.ForceAAAASOA = &t
	}
	if hasFlag(rest, "-force-HTTPS-SOA") {
		t := true
		r.ForceHTTPSSOA = &t
	}
	if v, ok := flagValue(rest, "-subnet"); ok {
		p, err := ipset.ParseCIDROrIP(v)
		if err != nil {
			return fmt.Errorf("domain-rules: %w", err)
		}
		r.Subnet = &p
	}

	patterns := dom.Resolve(b.cfg.DomainSets)
	if patterns == nil {
		return fmt.Errorf("domain-rules: unresolved domain reference %q", fields[0])
	}
	b.cfg.DomainRules.InsertSet(patterns, r)
	return nil
}

func handleClientRule(b *builder, fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("client-rule: expected CIDR")
	}
	prefix, err := ipset.ParseCIDROrIP(fields[0])
	if err != nil {
		return fmt.Errorf("client-rule: %w", err)
	}
	cr := rule.ClientRule{CIDR: prefix}
	rest := fields[1:]
	if v, ok := flagValue(rest, "-group"); ok {
		cr.Group = v
	}
	if hasFlag(rest, "-no-cache") {
		cr.NoCache = true
	}
	if v, ok := flagValue(rest, "-speed-check-mode"); ok {
		probes, err := parseSpeedProbes(v)
		if err != nil {
			return fmt.Errorf("client-rule: %w", err)
		}
		cr.SpeedMode = probes
	}
	b.clientRules = append(b.clientRules, cr)
	return nil
}

func handleBind(b *builder, proto ListenProto, fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("bind: expected an address")
	}
	l := Listener{Proto: proto, Addr: fields[0], Group: b.currentGroup()}
	rest := fields[1:]
	if v, ok := flagValue(rest, "-group"); ok {
		l.Group = v
	}
	if hasFlag(rest, "-no-rule") {
		l.NoRule = true
	}
	if hasFlag(rest, "-no-cache") {
		l.NoCache = true
	}
	b.cfg.Listeners = append(b.cfg.Listeners, l)
	return nil
}

// handleServer parses `server <url>` and its protocol-specific aliases
// (spec §6.2). protoOverride, when non-empty, forces the protocol
// regardless of the URL scheme (for the `server-tcp`/`server-tls`/...
// directive spellings).
func handleServer(b *builder, protoOverride string, fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("server: expected a URL or host:port")
	}
	srv, err := parseUpstreamURL(fields[0], protoOverride)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	rest := fields[1:]
	if v, ok := flagValue(rest, "-group"); ok {
		srv.GroupTags = make(map[string]struct{})
		for _, g := range strings.Split(v, ",") {
			srv.GroupTags[g] = struct{}{}
		}
	}
	if hasFlag(rest, "-exclude-default") {
		srv.ExcludeDefault = true
	}
	if v, ok := flagValue(rest, "-subnet"); ok {
		p, err := ipset.ParseCIDROrIP(v)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		srv.EDNSClientSubnet = &p
	}
	if v, ok := flagValue(rest, "-host-name"); ok {
		srv.SNI = v
	}
	if v, ok := flagValue(rest, "-blacklist-ip"); ok {
		i, err := ipset.ParseIpOrSet(v)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		srv.BlacklistIP = &i
	}
	if v, ok := flagValue(rest, "-whitelist-ip"); ok {
		i, err := ipset.ParseIpOrSet(v)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		srv.WhitelistIP = &i
	}
	if b.currentGroup() != "" && srv.GroupTags == nil {
		srv.GroupTags = map[string]struct{}{b.currentGroup(): {}}
	}
	srv.ID = fmt.Sprintf("%s#%d", srv.Addr(), len(b.cfg.Servers))
	b.cfg.Servers = append(b.cfg.Servers, srv)
	return nil
}
