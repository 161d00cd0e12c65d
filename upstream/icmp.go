package upstream

// buildICMPEcho constructs a minimal ICMP(v6) echo-request packet. For IPv4
// the checksum is computed over the whole message, as required. For IPv6 the
// kernel's raw ICMPv6 socket layer fills in the checksum from the pseudo
// header itself on most platforms, so the checksum field is left zero.
func buildICMPEcho(v6 bool, id, seq uint16) []byte {
	const icmpEchoRequestV4 = 8
	const icmpEchoRequestV6 = 128

	typ := byte(icmpEchoRequestV4)
	if v6 {
		typ = icmpEchoRequestV6
	}

	pkt := make([]byte, 8)
	pkt[0] = typ
	pkt[1] = 0 // code
	pkt[2] = 0 // checksum hi (filled below for v4)
	pkt[3] = 0 // checksum lo
	pkt[4] = byte(id >> 8)
	pkt[5] = byte(id)
	pkt[6] = byte(seq >> 8)
	pkt[7] = byte(seq)

	if !v6 {
		sum := icmpChecksum(pkt)
		pkt[2] = byte(sum >> 8)
		pkt[3] = byte(sum)
	}
	return pkt
}

func icmpChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
