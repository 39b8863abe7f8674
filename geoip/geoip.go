// Package geoip resolves a client IP to an ISO-3166-1 alpha-2 country
// code via a configurable CIDR table, the same rule-evaluation shape the
// gateway used to map client IPs to data-residency regions.
package geoip

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Rule maps a CIDR block to a country code.
type Rule struct {
	CIDR    string
	Country string
	ipNet   *net.IPNet
}

// Unknown is returned when no rule matches and no default is configured.
const Unknown = "ZZ"

// Lookup resolves client IPs to countries via an ordered CIDR table.
type Lookup struct {
	mu      sync.RWMutex
	logger  zerolog.Logger
	rules   []Rule
	fallback string
}

// New builds a Lookup from already-parsed rules.
func New(rules []Rule, fallback string, logger zerolog.Logger) (*Lookup, error) {
	l := &Lookup{logger: logger.With().Str("component", "geoip").Logger(), fallback: fallback}
	if err := l.setRules(rules); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Lookup) setRules(rules []Rule) error {
	parsed := make([]Rule, 0, len(rules))
	for _, r := range rules {
		_, ipNet, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			l.logger.Warn().Str("cidr", r.CIDR).Err(err).Msg("invalid CIDR in geoip table, skipping")
			continue
		}
		r.ipNet = ipNet
		parsed = append(parsed, r)
	}
	l.mu.Lock()
	l.rules = parsed
	l.mu.Unlock()
	return nil
}

// Country resolves clientIP (optionally "ip:port") to a country code, or
// the configured fallback (default Unknown) when nothing matches.
func (l *Lookup) Country(clientIP string) string {
	host := clientIP
	if hostPart, _, err := net.SplitHostPort(clientIP); err == nil {
		host = hostPart
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return l.fallbackOrUnknown()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rule := range l.rules {
		if rule.ipNet.Contains(ip) {
			return rule.Country
		}
	}
	return l.fallbackOrUnknown()
}

func (l *Lookup) fallbackOrUnknown() string {
	if l.fallback != "" {
		return l.fallback
	}
	return Unknown
}

// LoadRulesCSV parses a "cidr,country" per-line table, the format used by
// GEOIP_CIDR_FILE. Blank lines and lines starting with '#' are skipped.
func LoadRulesCSV(r io.Reader) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		rules = append(rules, Rule{
			CIDR:    strings.TrimSpace(parts[0]),
			Country: strings.ToUpper(strings.TrimSpace(parts[1])),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
