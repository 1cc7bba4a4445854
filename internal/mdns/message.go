// Package mdns decodes captured ethernet frames down to multicast DNS messages
// and decides whether they concern a configured set of domain names.
package mdns

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

// Question is one question record of a message.
type Question struct {
	Name string
	Type uint16
}

// Answer is one answer record of a message. Data is the presentation form of
// the record's resource data.
type Answer struct {
	Name string
	Type uint16
	Data string
}

// Message is the parsed view of an mDNS payload used for filtering. Names are
// fully decompressed, unescaped and carry no trailing root dot.
type Message struct {
	Questions []Question
	Answers   []Answer
}

// Decode parses an mDNS payload (the UDP payload of a frame).
func Decode(payload []byte) (*Message, error) {
	var m dns.Msg
	if err := m.Unpack(payload); err != nil {
		return nil, fmt.Errorf("unpacking dns message: %w", err)
	}

	msg := &Message{
		Questions: make([]Question, 0, len(m.Question)),
		Answers:   make([]Answer, 0, len(m.Answer)),
	}
	for _, q := range m.Question {
		msg.Questions = append(msg.Questions, Question{Name: recordName(q.Name), Type: q.Qtype})
	}
	for _, rr := range m.Answer {
		hdr := rr.Header()
		msg.Answers = append(msg.Answers, Answer{
			Name: recordName(hdr.Name),
			Type: hdr.Rrtype,
			Data: strings.TrimPrefix(rr.String(), hdr.String()),
		})
	}
	return msg, nil
}

// recordName turns the presentation form of a fully qualified name back into
// the raw label bytes joined by dots, without the root label. Escapes such as
// `\ ` and `\195` are undone, so a name reads as it did on the wire.
func recordName(fqdn string) string {
	b := make([]byte, 0, len(fqdn))
	for i := 0; i < len(fqdn); i++ {
		c := fqdn[i]
		switch {
		case c == '\\' && i+3 < len(fqdn) && isDigit(fqdn[i+1]) && isDigit(fqdn[i+2]) && isDigit(fqdn[i+3]):
			b = append(b, (fqdn[i+1]-'0')*100+(fqdn[i+2]-'0')*10+(fqdn[i+3]-'0'))
			i += 3
		case c == '\\' && i+1 < len(fqdn):
			b = append(b, fqdn[i+1])
			i++
		case c == '.' && i == len(fqdn)-1:
			// root label
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Classifier walks a frame through the ethernet, IPv4 and UDP layers and parses
// the payload as mDNS. It reuses its decoders between calls and must not be
// shared between goroutines.
type Classifier struct {
	eth layers.Ethernet
	ip4 layers.IPv4
	udp layers.UDP
}

// NewClassifier returns a ready Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the mDNS message carried by frame. Frames that are not
// IPv4, not addressed to a multicast group, not UDP, truncated, or whose
// payload does not parse as DNS yield false.
func (c *Classifier) Classify(frame []byte) (*Message, bool) {
	payload, ok := c.udpPayload(frame)
	if !ok {
		return nil, false
	}
	msg, err := Decode(payload)
	if err != nil {
		return nil, false
	}
	return msg, true
}

func (c *Classifier) udpPayload(frame []byte) ([]byte, bool) {
	if err := c.eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, false
	}
	if c.eth.EthernetType != layers.EthernetTypeIPv4 {
		return nil, false
	}

	if err := c.ip4.DecodeFromBytes(c.eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, false
	}
	dst, ok := netip.AddrFromSlice(c.ip4.DstIP)
	if !ok || !IsMulticast(dst) {
		return nil, false
	}
	if c.ip4.Protocol != layers.IPProtocolUDP {
		return nil, false
	}

	if err := c.udp.DecodeFromBytes(c.ip4.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, false
	}
	return c.udp.Payload, true
}
