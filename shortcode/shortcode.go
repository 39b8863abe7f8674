// Package shortcode derives deterministic short codes from a canonical URL,
// a tenant id, and a salt, the same sha256-then-encode idiom the gateway
// used to fingerprint prompts for its semantic cache.
package shortcode

import (
	"crypto/sha256"
	"math/big"
	"strconv"
	"strings"
)

// alphabet is Base58 (Bitcoin variant): no 0, O, I, or l, so every emitted
// code is unambiguous when read aloud or typed by hand.
const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Length is the fixed width of every derived code.
const Length = 10

var base = big.NewInt(int64(len(alphabet)))

// Derive computes the short code for (canonical, tenantID) at the given
// salt. Salt 0 is the first attempt; salts 1..9 are collision retries
// (spec §4.4). The same inputs always produce the same code.
func Derive(canonical, tenantID string, salt uint64) string {
	h := sha256.New()
	h.Write([]byte(canonical))
	h.Write([]byte("|"))
	h.Write([]byte(tenantID))
	if salt > 0 {
		h.Write([]byte("|"))
		h.Write([]byte(strconv.FormatUint(salt, 10)))
	}
	sum := h.Sum(nil)

	n := new(big.Int).SetBytes(sum[:16])
	return encodeBase58(n)
}

func encodeBase58(n *big.Int) string {
	if n.Sign() == 0 {
		return strings.Repeat(string(alphabet[0]), Length)
	}

	var out []byte
	zero := big.NewInt(0)
	mod := new(big.Int)
	n = new(big.Int).Set(n)
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		out = append(out, alphabet[mod.Int64()])
	}

	// DivMod emits least-significant digit first; reverse into place.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	if len(out) >= Length {
		return string(out[len(out)-Length:])
	}

	pad := strings.Repeat(string(alphabet[0]), Length-len(out))
	return pad + string(out)
}

// ValidCode reports whether code has the expected length and alphabet,
// the cheap check Resolve runs before ever touching storage.
func ValidCode(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// MaxSalt bounds the collision-retry loop (spec §4.4): salts 0 through
// MaxSalt are attempted before a create gives up with CollisionUnresolved.
const MaxSalt = 9
