package mdns

import (
	"fmt"
	"strings"

	"github.com/mojo333/mdns-tunnel/internal/logger"
)

// MatchPolicy selects how record names are compared with configured domains.
type MatchPolicy int

const (
	// MatchExact compares names byte for byte.
	MatchExact MatchPolicy = iota
	// MatchCanonical ignores ASCII case and a trailing root dot.
	MatchCanonical
)

// ParseMatchPolicy parses "exact" or "canonical". The empty string is exact.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(s) {
	case "", "exact":
		return MatchExact, nil
	case "canonical":
		return MatchCanonical, nil
	}
	return MatchExact, fmt.Errorf("unknown match policy %q (want exact or canonical)", s)
}

func (p MatchPolicy) String() string {
	if p == MatchCanonical {
		return "canonical"
	}
	return "exact"
}

func (p MatchPolicy) key(name string) string {
	if p == MatchCanonical {
		return strings.ToLower(strings.TrimSuffix(name, "."))
	}
	return name
}

// Filter holds the domain filter set.
type Filter struct {
	domains []string
	keys    map[string]struct{}
	policy  MatchPolicy
	log     *logger.Logger
}

// NewFilter builds a Filter over domains. A nil log discards match events.
func NewFilter(domains []string, policy MatchPolicy, log *logger.Logger) *Filter {
	if log == nil {
		log = logger.Discard()
	}
	f := &Filter{
		domains: append([]string(nil), domains...),
		keys:    make(map[string]struct{}, len(domains)),
		policy:  policy,
		log:     log,
	}
	for _, d := range domains {
		f.keys[policy.key(d)] = struct{}{}
	}
	return f
}

// Domains returns the configured domains in their configured order.
func (f *Filter) Domains() []string {
	return append([]string(nil), f.domains...)
}

// Policy returns the comparison policy.
func (f *Filter) Policy() MatchPolicy {
	return f.policy
}

// Match reports whether name is in the filter set.
func (f *Filter) Match(name string) bool {
	_, ok := f.keys[f.policy.key(name)]
	return ok
}

// Matches reports whether any question or answer of msg names a configured
// domain. Every matching record is logged.
func (f *Filter) Matches(msg *Message) bool {
	matched := false
	for _, q := range msg.Questions {
		if f.Match(q.Name) {
			f.log.Info("found query packet, domain: %s", q.Name)
			matched = true
		}
	}
	for _, a := range msg.Answers {
		if f.Match(a.Name) {
			f.log.Info("found answer packet, domain: %s at: %s", a.Name, a.Data)
			matched = true
		}
	}
	return matched
}

// Selector combines a Classifier and a Filter into the accept decision used by
// the capture loop. Like Classifier, it is confined to one goroutine.
type Selector struct {
	classifier *Classifier
	filter     *Filter
}

// NewSelector returns a Selector with its own Classifier.
func NewSelector(f *Filter) *Selector {
	return &Selector{classifier: NewClassifier(), filter: f}
}

// Accept reports whether frame carries an mDNS message matching the filter.
func (s *Selector) Accept(frame []byte) bool {
	msg, ok := s.classifier.Classify(frame)
	return ok && s.filter.Matches(msg)
}
