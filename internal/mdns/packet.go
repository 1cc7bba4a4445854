package mdns

import (
	"net"
	"net/netip"
)

// mDNS well-known group and port (RFC 6762).
const (
	GroupAddr = "224.0.0.251"
	Port      = 5353
)

var (
	// Group is GroupAddr parsed.
	Group = netip.MustParseAddr(GroupAddr)

	multicastBlock = netip.MustParsePrefix("224.0.0.0/4")
)

// IsMulticast returns true if ip is an IPv4 multicast address (224.0.0.0 - 239.255.255.255).
func IsMulticast(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.Is4() && multicastBlock.Contains(ip)
}

// MulticastMAC derives the ethernet MAC for an IPv4 multicast group per RFC 1112.
// It returns nil for addresses outside 224.0.0.0/4.
func MulticastMAC(ip netip.Addr) net.HardwareAddr {
	if !IsMulticast(ip) {
		return nil
	}
	b := ip.Unmap().As4()
	return net.HardwareAddr{0x01, 0x00, 0x5e, b[1] & 0x7f, b[2], b[3]}
}
