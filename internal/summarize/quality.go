package summarize

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"episode-generator/internal/models"
)

// ErrQualityGate marks a summary that failed the minimum quality scores.
var ErrQualityGate = errors.New("summary failed quality gate")

// QualityAssessor scores a summary against its source.
type QualityAssessor interface {
	Assess(source, summary string) models.QualityScores
}

// Thresholds are the minimum acceptable scores.
type Thresholds struct {
	MinCoherence   float64
	MinRelevance   float64
	MinReadability float64
}

// Check returns an error wrapping ErrQualityGate naming every score below its minimum.
func (t Thresholds) Check(s models.QualityScores) error {
	var low []string
	if s.Coherence < t.MinCoherence {
		low = append(low, fmt.Sprintf("coherence %.2f < %.2f", s.Coherence, t.MinCoherence))
	}
	if s.Relevance < t.MinRelevance {
		low = append(low, fmt.Sprintf("relevance %.2f < %.2f", s.Relevance, t.MinRelevance))
	}
	if s.Readability < t.MinReadability {
		low = append(low, fmt.Sprintf("readability %.2f < %.2f", s.Readability, t.MinReadability))
	}
	if len(low) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrQualityGate, strings.Join(low, ", "))
}

var transitionWords = []string{
	"however", "moreover", "furthermore", "additionally", "also", "meanwhile",
	"therefore", "consequently", "as a result", "in addition", "for example",
	"for instance", "finally", "first", "second", "next", "then", "because",
	"although", "similarly", "in contrast", "overall", "still", "instead",
}

var conversationalMarkers = []string{
	"you", "your", "we", "our", "let's", "here's", "today", "so", "now",
	"imagine", "think about", "it's", "that's", "what this means",
}

var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "were": {}, "been": {},
	"they": {}, "their": {}, "there": {}, "which": {}, "would": {}, "could": {},
	"about": {}, "into": {}, "than": {}, "then": {}, "them": {}, "will": {}, "what": {},
	"when": {}, "where": {}, "also": {}, "said": {}, "more": {}, "some": {}, "just": {},
}

const idealSentenceWords = 16.0

// HeuristicAssessor scores summaries with string statistics only.
type HeuristicAssessor struct{}

// Assess implements QualityAssessor.
func (HeuristicAssessor) Assess(source, summary string) models.QualityScores {
	sentences := SplitSentences(summary)
	if len(sentences) == 0 {
		return models.QualityScores{}
	}
	lengths := make([]float64, len(sentences))
	var total float64
	for i, s := range sentences {
		lengths[i] = float64(WordCount(s))
		total += lengths[i]
	}
	avg := total / float64(len(lengths))
	regularity := lengthRegularity(lengths, avg)
	lower := " " + strings.ToLower(summary) + " "

	transitions := math.Min(1, float64(countMarkers(lower, transitionWords))/2)
	lengthFit := clamp01(1 - math.Abs(avg-idealSentenceWords)/idealSentenceWords)
	conversational := math.Min(1, float64(countMarkers(lower, conversationalMarkers))/2)

	return models.QualityScores{
		Coherence:   round2(0.6*regularity + 0.4*transitions),
		Relevance:   round2(overlap(source, summary)),
		Readability: round2(0.6*(regularity+lengthFit)/2 + 0.4*conversational),
	}
}

// lengthRegularity is 1 minus the coefficient of variation of sentence lengths.
func lengthRegularity(lengths []float64, avg float64) float64 {
	if avg == 0 {
		return 0
	}
	var variance float64
	for _, l := range lengths {
		variance += (l - avg) * (l - avg)
	}
	variance /= float64(len(lengths))
	return clamp01(1 - math.Sqrt(variance)/avg)
}

// overlap is the share of distinct summary content words that appear in the source, capped at 1.
func overlap(source, summary string) float64 {
	src := make(map[string]struct{})
	for _, tok := range Tokens(source, 4) {
		src[tok] = struct{}{}
	}
	seen := make(map[string]struct{})
	var matched int
	for _, tok := range Tokens(summary, 4) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := src[tok]; ok {
			matched++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return math.Min(1, float64(matched)/float64(len(seen)))
}

func countMarkers(lowerPadded string, markers []string) int {
	var n int
	for _, m := range markers {
		n += strings.Count(lowerPadded, " "+m+" ")
		n += strings.Count(lowerPadded, " "+m+",")
	}
	return n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
