// Package signature derives claim dedup keys and scores their similarity.
//
// A signature is the canonical form of a claim's text: two claims in the same
// cell are duplicates exactly when their signatures are equal. Similarity
// scoring is a secondary signal used only for merge suggestions.
package signature

import (
	"strings"
	"unicode"
)

// DefaultThreshold is the similarity ratio at or above which two claims are
// considered near-duplicates.
const DefaultThreshold = 0.85

// Normalize lowercases text, drops every rune that is not a letter, digit or
// whitespace, collapses whitespace runs to a single space and trims.
// '/' counts as whitespace so that "6/8" and "6 8" share a signature; '-' and
// '_' are stripped like other punctuation. Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r), r == '/':
			pendingSpace = true
		}
	}
	return b.String()
}

// EditDistance is the Levenshtein distance between a and b over runes, with
// unit cost for insertion, deletion and substitution.
func EditDistance(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, minInt(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

// Similarity returns 1 - EditDistance(a, b) / max(len(a), len(b)) in runes.
// Two empty strings are fully similar.
func Similarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(EditDistance(a, b))/float64(maxLen)
}

// AreSimilar reports whether two raw texts share a signature or their
// signatures are at least threshold similar.
func AreSimilar(a, b string, threshold float64) bool {
	sa := Normalize(a)
	sb := Normalize(b)
	if sa == sb {
		return true
	}
	return Similarity(sa, sb) >= threshold
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
