package refpath

import (
	"github.com/hbollon/go-edlib"
)

// Suggestions below this similarity are noise, not help.
const suggestionMinSimilarity = 0.6

// ClosestName returns the candidate most similar to name, for use in
// dangling-reference diagnostics. Reports false when nothing is close
// enough to be worth suggesting.
func ClosestName(name string, candidates []string) (string, bool) {
	var best string
	var bestScore float32
	for _, candidate := range candidates {
		score, err := edlib.StringsSimilarity(name, candidate, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if bestScore < suggestionMinSimilarity {
		return "", false
	}
	return best, true
}
