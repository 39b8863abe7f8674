package shortcode

import "testing"

func TestDerive_Deterministic(t *testing.T) {
	a := Derive("https://example.com/page", "tenant-1", 0)
	b := Derive("https://example.com/page", "tenant-1", 0)
	if a != b {
		t.Fatalf("expected deterministic output, got %q and %q", a, b)
	}
}

func TestDerive_FixedLength(t *testing.T) {
	for salt := uint64(0); salt <= MaxSalt; salt++ {
		got := Derive("https://example.com/page", "tenant-1", salt)
		if len(got) != Length {
			t.Fatalf("salt %d: got length %d, want %d (%q)", salt, len(got), Length, got)
		}
		if !ValidCode(got) {
			t.Fatalf("salt %d: derived code %q fails ValidCode", salt, got)
		}
	}
}

func TestDerive_DifferentTenantsDiverge(t *testing.T) {
	a := Derive("https://example.com/page", "tenant-1", 0)
	b := Derive("https://example.com/page", "tenant-2", 0)
	if a == b {
		t.Fatalf("expected different tenants to produce different codes, both got %q", a)
	}
}

func TestDerive_DifferentSaltsDiverge(t *testing.T) {
	seen := map[string]bool{}
	for salt := uint64(0); salt <= MaxSalt; salt++ {
		got := Derive("https://example.com/page", "tenant-1", salt)
		if seen[got] {
			t.Fatalf("salt %d produced a code already seen: %q", salt, got)
		}
		seen[got] = true
	}
}

func TestDerive_DifferentCanonicalsDiverge(t *testing.T) {
	a := Derive("https://example.com/a", "tenant-1", 0)
	b := Derive("https://example.com/b", "tenant-1", 0)
	if a == b {
		t.Fatalf("expected different canonical URLs to produce different codes, both got %q", a)
	}
}

func TestValidCode_RejectsWrongLength(t *testing.T) {
	if ValidCode("short") {
		t.Fatalf("expected short string to be invalid")
	}
	if ValidCode("waytoolongcode1234") {
		t.Fatalf("expected long string to be invalid")
	}
}

func TestValidCode_RejectsExcludedCharacters(t *testing.T) {
	for _, c := range []byte{'0', 'O', 'I', 'l'} {
		code := "123456789"[:9] + string(c)
		if ValidCode(code) {
			t.Fatalf("expected code containing %q to be invalid: %q", c, code)
		}
	}
}

func TestValidCode_AcceptsWellFormedCode(t *testing.T) {
	got := Derive("https://example.com/page", "tenant-1", 0)
	if !ValidCode(got) {
		t.Fatalf("expected derived code %q to be valid", got)
	}
}
