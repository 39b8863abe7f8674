// Package canonical normalizes surface-variant URLs to a single byte-exact
// form so that equivalent inputs collapse to the same short code.
package canonical

import (
	"net/url"
	"sort"
	"strings"

	"github.com/shortenerhq/shortener/errorsx"
)

// Canonicalize applies the ten normalization steps in order and returns the
// canonical form, or errorsx.InvalidURL if raw fails to parse or its scheme
// is not http/https.
//
// Each step is idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.Scheme == "" {
		return "", errorsx.InvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errorsx.InvalidURL
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	path := canonicalizePath(u.EscapedPath())
	query := canonicalizeQuery(u.RawQuery)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}

	return b.String(), nil
}

// canonicalizePath collapses repeated slashes, percent-decodes unreserved
// characters, and strips a single trailing slash. It never resolves "."
// or ".." segments — author intent is preserved (spec open question (d)).
func canonicalizePath(raw string) string {
	if raw == "" {
		return "/"
	}

	decoded := decodeUnreserved(raw)

	var collapsed strings.Builder
	prevSlash := false
	for _, r := range decoded {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		collapsed.WriteRune(r)
	}

	path := collapsed.String()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// decodeUnreserved percent-decodes only the RFC 3986 §2.3 unreserved
// characters (ALPHA / DIGIT / "-" / "." / "_" / "~"), leaving every other
// percent-escape (reserved/delimiter bytes) untouched.
func decodeUnreserved(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			c := hexByte(s[i+1], s[i+2])
			if isUnreserved(c) {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexByte(hi, lo byte) byte {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// canonicalizeQuery splits the query into (name, value) pairs, sorts them
// stably by name (byte-wise), and re-joins. An empty query becomes absent.
func canonicalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}

	rawPairs := strings.Split(raw, "&")
	type pair struct {
		name, value string
	}
	pairs := make([]pair, 0, len(rawPairs))
	for _, p := range rawPairs {
		if p == "" {
			continue
		}
		name, value, found := strings.Cut(p, "=")
		if !found {
			value = ""
		}
		pairs = append(pairs, pair{name: name, value: value})
	}
	if len(pairs) == 0 {
		return ""
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].name < pairs[j].name
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.name + "=" + p.value
	}
	return strings.Join(parts, "&")
}
