// Package transport intercepts the client's relay connections: it
// decides which relay URLs the simulator impersonates, represents each
// intercepted connection as a Session, and serves or proxies the
// underlying WebSockets.
package transport

import (
	"net/url"
	"strings"
)

// Matcher holds the set of relay URL patterns the simulator
// intercepts. A pattern is an exact "host:port", a bare "host"
// (any port), a "*.suffix" wildcard, or "*" for everything.
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher over the given patterns. Patterns are
// compared case-insensitively against the normalized host:port of the
// target URL.
func NewMatcher(patterns []string) *Matcher {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Matcher{patterns: normalized}
}

// Patterns returns the configured patterns.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Match reports whether the relay URL is intercepted.
func (m *Matcher) Match(relayURL string) bool {
	host, port, ok := splitTarget(relayURL)
	if !ok {
		return false
	}
	hostPort := host + ":" + port
	for _, p := range m.patterns {
		if patternMatches(p, host, hostPort) {
			return true
		}
	}
	return false
}

func patternMatches(pattern, host, hostPort string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		// "*.damus.io" matches any subdomain, with or without a
		// port in the pattern.
		suffix := pattern[1:] // ".damus.io" or ".damus.io:443"
		if strings.Contains(suffix, ":") {
			return strings.HasSuffix(hostPort, suffix)
		}
		return strings.HasSuffix(host, suffix)
	case strings.Contains(pattern, ":"):
		return pattern == hostPort
	default:
		return pattern == host
	}
}

// splitTarget normalizes a relay URL ("wss://relay.example",
// "ws://127.0.0.1:7777/path", or bare "host:port") into lowercase
// host and port, applying the scheme's default port when absent.
func splitTarget(relayURL string) (host, port string, ok bool) {
	s := strings.TrimSpace(relayURL)
	if s == "" {
		return "", "", false
	}
	if !strings.Contains(s, "://") {
		s = "wss://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", "", false
	}
	host = strings.ToLower(u.Hostname())
	port = u.Port()
	if port == "" {
		switch u.Scheme {
		case "ws", "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return host, port, true
}
