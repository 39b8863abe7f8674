package geoip

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCountry_MatchesRule(t *testing.T) {
	l, err := New([]Rule{
		{CIDR: "203.0.113.0/24", Country: "AU"},
		{CIDR: "198.51.100.0/24", Country: "US"},
	}, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := l.Country("203.0.113.42"); got != "AU" {
		t.Fatalf("got %q, want AU", got)
	}
	if got := l.Country("198.51.100.7:54321"); got != "US" {
		t.Fatalf("got %q, want US", got)
	}
}

func TestCountry_FallsBackWhenNoMatch(t *testing.T) {
	l, err := New([]Rule{{CIDR: "203.0.113.0/24", Country: "AU"}}, "US", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.Country("192.0.2.1"); got != "US" {
		t.Fatalf("got %q, want US", got)
	}
}

func TestCountry_UnknownWithoutFallback(t *testing.T) {
	l, err := New(nil, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.Country("192.0.2.1"); got != Unknown {
		t.Fatalf("got %q, want %q", got, Unknown)
	}
}

func TestCountry_UnparseableIP(t *testing.T) {
	l, err := New(nil, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.Country("not-an-ip"); got != Unknown {
		t.Fatalf("got %q, want %q", got, Unknown)
	}
}

func TestLoadRulesCSV(t *testing.T) {
	input := "# comment\n203.0.113.0/24,AU\n\n198.51.100.0/24, us\n"
	rules, err := LoadRulesCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Country != "AU" || rules[1].Country != "US" {
		t.Fatalf("got %+v", rules)
	}
}
