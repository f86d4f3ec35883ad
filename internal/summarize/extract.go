package summarize

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	keyPointMinLength = 40
	maxKeyPoints      = 5
	maxTakeaways      = 3
)

var takeawayMarkers = []string{
	"should", "will", "must", "need to", "plan", "expect", "next", "future",
	"consider", "recommend", "going to", "watch for", "look for", "can",
}

// KeyPoints returns up to five of the longest sentences at or above the length floor.
func KeyPoints(text string) []string {
	var candidates []string
	for _, s := range SplitSentences(text) {
		if utf8.RuneCountInString(s) >= keyPointMinLength {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return utf8.RuneCountInString(candidates[i]) > utf8.RuneCountInString(candidates[j])
	})
	if len(candidates) > maxKeyPoints {
		candidates = candidates[:maxKeyPoints]
	}
	return candidates
}

// Takeaways returns up to three sentences carrying forward-looking or actionable language.
func Takeaways(text string) []string {
	var out []string
	for _, s := range SplitSentences(text) {
		lower := " " + strings.ToLower(strings.TrimRight(s, ".!?")) + " "
		for _, m := range takeawayMarkers {
			if strings.Contains(lower, " "+m+" ") {
				out = append(out, s)
				break
			}
		}
		if len(out) == maxTakeaways {
			break
		}
	}
	return out
}
