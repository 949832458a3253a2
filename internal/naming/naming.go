package naming

import "strings"

const (
	SourceGateway    = "gateway"
	SourceDHCP       = "dhcp"
	SourceReverseDNS = "reverse_dns"
	SourceSNMP       = "snmp"
)

// minScore is the quality bar a candidate must clear to be used as a host name.
const minScore = 60

type Candidate struct {
	Name   string
	Source string
}

type scoredCandidate struct {
	Source   string
	HostName string
	Score    int
}

// NormalizeHostName turns a raw name into a bare host label: trailing dots and
// local search domains are dropped, DNS-sourced names are lowercased.
func NormalizeHostName(source, raw string) (hostName string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSpace(raw)
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", 0, false
	}

	if source == SourceReverseDNS {
		name = strings.ToLower(name)
	}
	if looksGarbage(strings.ToLower(name)) {
		return name, -1, false
	}
	if !strings.ContainsAny(name, " \t") {
		if head, _, found := strings.Cut(name, "."); found && head != "" {
			name = head
		}
	}

	s := scoreCandidate(source, name)
	if s < minScore {
		return name, s, false
	}
	return name, s, true
}

// ChooseHostName returns the best usable host name among candidates.
func ChooseHostName(candidates []Candidate) (string, bool) {
	best := scoredCandidate{Score: -1}
	for _, c := range candidates {
		name, score, ok := NormalizeHostName(c.Source, c.Name)
		if !ok {
			continue
		}
		next := scoredCandidate{Source: c.Source, HostName: name, Score: score}
		if better(next, best) {
			best = next
		}
	}
	if best.Score < minScore || best.HostName == "" {
		return "", false
	}
	return best.HostName, true
}

func better(a, b scoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.HostName) != len(b.HostName) {
		return len(a.HostName) < len(b.HostName)
	}
	return a.HostName < b.HostName
}

func scoreCandidate(source, name string) int {
	normalized := strings.ToLower(name)
	if looksGarbage(normalized) {
		return -1
	}

	base := 50
	switch source {
	case SourceGateway:
		base = 95
	case SourceDHCP:
		base = 92
	case SourceReverseDNS:
		base = 85
	case SourceSNMP:
		base = 80
	}

	if len(name) < 2 {
		base -= 50
	}
	if strings.ContainsAny(name, " \t") {
		base -= 25
	}
	if !looksHostnameLabel(name) {
		base -= 20
	}
	return base
}

func looksHostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// looksGarbage rejects placeholders gateways and resolvers hand out for
// unnamed hosts.
func looksGarbage(normalized string) bool {
	if normalized == "" {
		return true
	}
	if strings.Contains(normalized, "in-addr") || strings.Contains(normalized, "ip6") {
		return true
	}
	switch normalized {
	case "unknown", "localhost", "localdomain", "lan", "home", "*", "-":
		return true
	}
	return strings.HasPrefix(normalized, "unknown-") || strings.HasPrefix(normalized, "unknown_")
}
