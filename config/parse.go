package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"smartdns/rule"
)

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "true", "1", "on", "enable":
		return true, nil
	case "no", "false", "0", "off", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", s)
	}
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer: %q", s)
	}
	return uint32(n), nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned 16-bit integer: %q", s)
	}
	return uint16(n), nil
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a duration in seconds: %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

func parseMillis(s string) (time.Duration, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a duration in milliseconds: %q", s)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// parseResponseMode parses `response-mode`'s value (spec §6.2).
func parseResponseMode(s string) (rule.ResponseMode, error) {
	switch s {
	case "first-ping":
		return rule.ResponseModeFirstPing, nil
	case "fastest-ip":
		return rule.ResponseModeFastestIP, nil
	case "fastest-response":
		return rule.ResponseModeFastestResponse, nil
	default:
		return 0, fmt.Errorf("unknown response-mode %q", s)
	}
}

// parseSpeedProbes parses `speed-check-mode`'s comma-separated list, e.g.
// "ping,tcp:80,http:443,none" (spec §6.2).
func parseSpeedProbes(s string) ([]rule.SpeedProbe, error) {
	var out []rule.SpeedProbe
	for _, part := range strings.Split(s, ",") {
		p, err := parseSpeedProbe(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseSpeedProbe(s string) (rule.SpeedProbe, error) {
	switch {
	case s == "ping":
		return rule.SpeedProbe{Kind: rule.SpeedProbeICMP}, nil
	case s == "none":
		return rule.SpeedProbe{Kind: rule.SpeedProbeNone}, nil
	case strings.HasPrefix(s, "tcp:"):
		port, err := parseUint16(strings.TrimPrefix(s, "tcp:"))
		if err != nil {
			return rule.SpeedProbe{}, fmt.Errorf("speed-check-mode: %w", err)
		}
		return rule.SpeedProbe{Kind: rule.SpeedProbeTCP, Port: port}, nil
	case strings.HasPrefix(s, "http:"):
		port, err := parseUint16(strings.TrimPrefix(s, "http:"))
		if err != nil {
			return rule.SpeedProbe{}, fmt.Errorf("speed-check-mode: %w", err)
		}
		return rule.SpeedProbe{Kind: rule.SpeedProbeHTTP, Port: port}, nil
	default:
		return rule.SpeedProbe{}, fmt.Errorf("unknown speed-check-mode %q", s)
	}
}

// parseAddressValue parses the `address` directive's value codes: "#",
// "#4", "#6", "-", "-4", "-6", or a literal IPv4/IPv6 address (spec §4.4,
// §6.2, §9).
func parseAddressValue(s string) (*rule.AddressValue, error) {
	switch s {
	case "#":
		return &rule.AddressValue{Kind: rule.AddressSOA}, nil
	case "#4":
		return &rule.AddressValue{Kind: rule.AddressSOAv4}, nil
	case "#6":
		return &rule.AddressValue{Kind: rule.AddressSOAv6}, nil
	case "-":
		return &rule.AddressValue{Kind: rule.AddressIgnore}, nil
	case "-4":
		return &rule.AddressValue{Kind: rule.AddressIgnV4}, nil
	case "-6":
		return &rule.AddressValue{Kind: rule.AddressIgnV6}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address value %q", s)
	}
	if addr.Is4() {
		return &rule.AddressValue{Kind: rule.AddressIPv4, IP: addr}, nil
	}
	return &rule.AddressValue{Kind: rule.AddressIPv6, IP: addr}, nil
}

// parseQtype maps the handful of record-type names `force-qtype-soa`
// accepts to their wire type numbers, grounded on miekg/dns's own
// StringToType table restricted to the types this resolver answers.
func parseQtype(s string) (uint16, error) {
	switch strings.ToUpper(s) {
	case "A":
		return 1, nil
	case "AAAA":
		return 28, nil
	case "HTTPS":
		return 65, nil
	case "SVCB":
		return 64, nil
	default:
		return 0, fmt.Errorf("unsupported qtype %q", s)
	}
}
