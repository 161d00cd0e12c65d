package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"smartdns/upstream"
)

// defaultPortFor returns the conventional port for proto, used when a
// `server` directive's URL/host:port omits one.
func defaultPortFor(proto upstream.Protocol) uint16 {
	switch proto {
	case upstream.ProtocolTLS:
		return 853
	case upstream.ProtocolHTTPS:
		return 443
	case upstream.ProtocolQUIC:
		return 853
	default:
		return 53
	}
}

func protoFromScheme(scheme string) (upstream.Protocol, bool) {
	switch scheme {
	case "udp":
		return upstream.ProtocolUDP, true
	case "tcp":
		return upstream.ProtocolTCP, true
	case "tls":
		return upstream.ProtocolTLS, true
	case "https":
		return upstream.ProtocolHTTPS, true
	case "quic":
		return upstream.ProtocolQUIC, true
	default:
		return 0, false
	}
}

func protoFromOverride(override string) (upstream.Protocol, bool) {
	switch override {
	case "":
		return 0, false
	case "tcp":
		return upstream.ProtocolTCP, true
	case "tls":
		return upstream.ProtocolTLS, true
	case "https":
		return upstream.ProtocolHTTPS, true
	case "quic":
		return upstream.ProtocolQUIC, true
	default:
		return 0, false
	}
}

// parseUpstreamURL parses the `server` directive's value, which is either a
// scheme-qualified URL ("tls://1.1.1.1:853", "https://dns.google/dns-query")
// or a bare "host[:port]" defaulting to plain UDP (spec §6.2). protoOverride,
// set by the server-tcp/-tls/-https/-quic directive aliases, takes
// precedence over whatever scheme the URL carries.
func parseUpstreamURL(s, protoOverride string) (*upstream.Server, error) {
	srv := &upstream.Server{}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid server URL %q: %w", s, err)
		}
		proto, ok := protoFromScheme(u.Scheme)
		if !ok {
			return nil, fmt.Errorf("server URL %q: unsupported scheme %q", s, u.Scheme)
		}
		srv.Proto = proto
		srv.Host = u.Hostname()
		srv.Path = u.Path
		if p := u.Port(); p != "" {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("server URL %q: invalid port: %w", s, err)
			}
			srv.Port = uint16(n)
		}
	} else {
		host, port, err := splitHostPort(s)
		if err != nil {
			return nil, err
		}
		srv.Proto = upstream.ProtocolUDP
		srv.Host = host
		srv.Port = port
	}

	if proto, ok := protoFromOverride(protoOverride); ok {
		srv.Proto = proto
	}
	if srv.Host == "" {
		return nil, fmt.Errorf("server %q: missing host", s)
	}
	if srv.Port == 0 {
		srv.Port = defaultPortFor(srv.Proto)
	}
	if srv.Proto == upstream.ProtocolHTTPS && srv.Path == "" {
		srv.Path = "/dns-query"
	}
	return srv, nil
}

// splitHostPort parses "host" or "host:port"; a bare host gets port 0 so the
// caller can apply the protocol default.
func splitHostPort(s string) (string, uint16, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return s, 0, nil
	}
	// Guard against bare IPv6 literals like "::1" with no port.
	if strings.Count(s, ":") > 1 && !strings.HasPrefix(s, "[") {
		return s, 0, nil
	}
	host := s[:idx]
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	portStr := s[idx+1:]
	if portStr == "" {
		return host, 0, nil
	}
	n, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid host:port %q: %w", s, err)
	}
	return host, uint16(n), nil
}
