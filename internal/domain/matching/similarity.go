package matching

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// tokenDriftPct is the per-token Levenshtein allowance: tokens within 20% of
// their length still count as equal, which absorbs statement truncation
// ("stores" vs "store") without letting distinct brands collide.
const tokenDriftPct = 20

// Similarity scores two normalized merchant strings in [0, 1]. The score is
// the token-set overlap with Levenshtein-tolerant token equality; full
// containment of one string in the other floors the score at 0.9.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)

	matched := 0
	used := make([]bool, len(tokensB))
	for _, ta := range tokensA {
		for j, tb := range tokensB {
			if used[j] {
				continue
			}
			if tokensEqual(ta, tb) {
				matched++
				used[j] = true
				break
			}
		}
	}

	score := 2 * float64(matched) / float64(len(tokensA)+len(tokensB))

	if (strings.Contains(a, b) || strings.Contains(b, a)) && score < 0.9 {
		score = 0.9
	}
	return score
}

func tokensEqual(a, b string) bool {
	if a == b {
		return true
	}
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	maxLength := len(a)
	if len(b) > maxLength {
		maxLength = len(b)
	}
	return distance <= maxLength*tokenDriftPct/100
}
