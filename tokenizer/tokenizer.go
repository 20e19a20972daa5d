// Package tokenizer implements canonical tokenization and 64-bit SimHash
// fingerprinting, generalized from the ad-hoc canonicalKey helper in
// engine/engine.go into a reusable, stopword-aware tokenizer.
package tokenizer

import (
	"hash/fnv"
	"math/bits"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords is a small, deliberately short stopword set; the spec does not
// prescribe a specific list, only that "a small stopword set" is dropped.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"and": {}, "or": {}, "is": {}, "are": {}, "it": {}, "at": {}, "for": {},
	"with": {}, "by": {}, "as": {}, "be": {}, "was": {}, "were": {},
}

// Options configures Canonicalize. Synonyms optionally expands a canonical
// token into additional related tokens, applied after stopword removal.
// Empty by default; callers that want domain synonyms set the map directly.
type Options struct {
	Synonyms map[string][]string
}

// Canonicalize lowercases text, extracts [a-z0-9]+ runs, drops stopwords,
// and optionally appends configured synonyms, returning the ordered
// canonical token list (duplicates preserved; callers that need a set can
// call Set).
func Canonicalize(text string, opts *Options) []string {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)
	out := make([]string, 0, len(matches))
	for _, tok := range matches {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
		if opts != nil && opts.Synonyms != nil {
			if syns, ok := opts.Synonyms[tok]; ok {
				out = append(out, syns...)
			}
		}
	}
	return out
}

// Set converts a token slice into a deduplicated set.
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// TokenOverlap computes |Q ∩ M| / |Q|, 0 if Q is empty, per §4.1.
func TokenOverlap(query, memory []string) float64 {
	if len(query) == 0 {
		return 0
	}
	qSet := Set(query)
	mSet := Set(memory)
	var hit int
	for tok := range qSet {
		if _, ok := mSet[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(qSet))
}

// SimHash64 computes a 64-bit SimHash over the given canonical tokens using
// per-token FNV-1a hashing and bit-weighted voting, the standard
// construction referenced by the spec's "64-bit SimHash over canonical
// tokens" clause.
func SimHash64(tokens []string) uint64 {
	var weights [64]int
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		hv := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if hv&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}
	var out uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// SimHashHex encodes a SimHash64 result as a 16-character lowercase hex
// string, matching the persisted `simhash` field's wire format.
func SimHashHex(tokens []string) string {
	h := SimHash64(tokens)
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xF]
		h >>= 4
	}
	return string(buf)
}

// HammingDistance64 returns the number of differing bits between a and b.
func HammingDistance64(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// HammingDistanceHex parses two 16-character hex simhashes and returns
// their Hamming distance; malformed input is treated as maximally distant
// (64) so it never spuriously matches as a duplicate.
func HammingDistanceHex(a, b string) int {
	av, aerr := parseHex16(a)
	bv, berr := parseHex16(b)
	if aerr != nil || berr != nil {
		return 64
	}
	return HammingDistance64(av, bv)
}

func parseHex16(s string) (uint64, error) {
	var out uint64
	if len(s) != 16 {
		return 0, errInvalidHex
	}
	for i := 0; i < 16; i++ {
		c := s[i]
		var v uint64
		switch {
		case c >= '0' && c <= '9':
			v = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			v = uint64(c-'a') + 10
		default:
			return 0, errInvalidHex
		}
		out = out<<4 | v
	}
	return out, nil
}

type hexErr string

func (e hexErr) Error() string { return string(e) }

const errInvalidHex = hexErr("tokenizer: invalid simhash hex")

// IsNearDuplicate reports whether two simhash hex strings are within the
// near-duplicate Hamming threshold of 3, per §4.1.
func IsNearDuplicate(a, b string) bool {
	return HammingDistanceHex(a, b) <= 3
}
