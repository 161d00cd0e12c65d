package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"smartdns/cache"
)

// HostsTable maps a lowercased FQDN to the IPv4/IPv6 addresses an
// /etc/hosts-style file binds it to (spec §4.4).
type HostsTable struct {
	mu   sync.RWMutex
	v4   map[string][]netip.Addr
	v6   map[string][]netip.Addr
}

// NewHostsTable returns an empty table.
func NewHostsTable() *HostsTable {
	return &HostsTable{v4: make(map[string][]netip.Addr), v6: make(map[string][]netip.Addr)}
}

// LoadGlob reads every file matching pattern (spec §6.2's `hosts-file GLOB`)
// and merges their entries in.
func (h *HostsTable) LoadGlob(pattern string) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("hosts: glob %q: %w", pattern, err)
	}
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("hosts: open %q: %w", path, err)
		}
		err = h.LoadReader(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("hosts: parse %q: %w", path, err)
		}
	}
	return nil
}

// LoadReader parses r in classic /etc/hosts syntax: "IP name1 [name2 ...]"
// per line, '#' starting a comment.
func (h *HostsTable) LoadReader(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		h.mu.Lock()
		for _, name := range fields[1:] {
			name = strings.ToLower(strings.TrimSuffix(name, "."))
			if addr.Is4() {
				h.v4[name] = append(h.v4[name], addr)
			} else {
				h.v6[name] = append(h.v6[name], addr)
			}
		}
		h.mu.Unlock()
	}
	return scanner.Err()
}

func (h *HostsTable) lookup(name string, qtype uint16) ([]netip.Addr, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	switch qtype {
	case dns.TypeA:
		addrs, ok := h.v4[name]
		return addrs, ok
	case dns.TypeAAAA:
		addrs, ok := h.v6[name]
		return addrs, ok
	default:
		return nil, false
	}
}

// HostsMW answers A/AAAA queries directly from a HostsTable, short-circuiting
// the rest of the chain (spec §4.4).
type HostsMW struct {
	Hosts *HostsTable
	TTL   uint32 // stamped onto every synthesized RR; default 60 if unset
}

func (mw *HostsMW) ttl() uint32 {
	if mw.TTL > 0 {
		return mw.TTL
	}
	return 60
}

func (mw *HostsMW) Name() string { return "hosts" }

func (mw *HostsMW) Handle(ctx context.Context, rc *RequestContext) (*dns.Msg, error) {
	if mw.Hosts == nil {
		return nil, nil
	}
	if rc.Question.Qtype != dns.TypeA && rc.Question.Qtype != dns.TypeAAAA {
		return nil, nil
	}
	addrs, ok := mw.Hosts.lookup(rc.Question.Name, rc.Question.Qtype)
	if !ok {
		return nil, nil
	}
	m := new(dns.Msg)
	m.SetReply(rc.Request)
	m.Authoritative = true
	for _, a := range addrs {
		rr, err := addrRR(rc.Question.Name, rc.Question.Qtype, a, mw.ttl())
		if err != nil {
			continue
		}
		m.Answer = append(m.Answer, rr)
	}
	rc.LookupSource = cache.SourceStatic
	return m, nil
}

func addrRR(name string, qtype uint16, addr netip.Addr, ttl uint32) (dns.RR, error) {
	if qtype == dns.TypeA {
		rr := &dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl}, A: addr.AsSlice()}
		return rr, nil
	}
	rr := &dns.AAAA{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl}, AAAA: addr.AsSlice()}
	return rr, nil
}
