package mdns

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

var testSrcMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}

// ipv4Frame serializes an ethernet/IPv4 frame to dst. When proto is UDP the
// payload is wrapped in a UDP header on port 5353.
func ipv4Frame(t *testing.T, dst string, proto layers.IPProtocol, payload []byte) []byte {
	t.Helper()

	dstIP := netip.MustParseAddr(dst)
	dstMAC := MulticastMAC(dstIP)
	if dstMAC == nil {
		dstMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x03}
	}
	eth := &layers.Ethernet{
		SrcMAC:       testSrcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      255,
		Protocol: proto,
		SrcIP:    net.IP{192, 168, 1, 20},
		DstIP:    dstIP.AsSlice(),
	}

	ls := []gopacket.SerializableLayer{eth, ip}
	if proto == layers.IPProtocolUDP {
		udp := &layers.UDP{SrcPort: Port, DstPort: Port}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("SetNetworkLayerForChecksum: %v", err)
		}
		ls = append(ls, udp)
	}
	ls = append(ls, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

// mdnsFrame builds a multicast mDNS frame carrying msg.
func mdnsFrame(t *testing.T, msg *dns.Msg) []byte {
	t.Helper()
	return ipv4Frame(t, GroupAddr, layers.IPProtocolUDP, packMsg(t, msg))
}

func packMsg(t *testing.T, msg *dns.Msg) []byte {
	t.Helper()
	b, err := msg.Pack()
	if err != nil {
		t.Fatalf("packing dns message: %v", err)
	}
	return b
}

func queryMsg(names ...string) *dns.Msg {
	m := new(dns.Msg)
	for _, n := range names {
		m.Question = append(m.Question, dns.Question{Name: dns.Fqdn(n), Qtype: dns.TypePTR, Qclass: dns.ClassINET})
	}
	return m
}

func answerMsg(name, target string) *dns.Msg {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Compress = true
	m.Answer = []dns.RR{&dns.PTR{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
		Ptr: dns.Fqdn(target),
	}}
	return m
}

// txtMsg builds an answer carrying a TXT record for name, given in DNS
// presentation form.
func txtMsg(name string) *dns.Msg {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = []dns.RR{&dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 4500},
		Txt: []string{"md=Chromecast"},
	}}
	return m
}
