package summarize

import (
	"regexp"
	"strings"
	"time"
)

const (
	SentencePause  = `<break time="600ms"/>`
	ClausePause    = `<break time="300ms"/>`
	WordsPerMinute = 150
)

var pauseMarkerRe = regexp.MustCompile(`\s*<break time="\d+ms"/>`)

// OptimizeForSpeech inserts pause markers after sentence-ending and
// clause-ending punctuation.
func OptimizeForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	for i := 0; i < len(text); i++ {
		c := text[i]
		b.WriteByte(c)
		atBoundary := i+1 == len(text) || isSpace(text[i+1])
		if !atBoundary {
			continue
		}
		switch c {
		case '.', '!', '?':
			b.WriteString(" " + SentencePause)
		case ',', ';', ':':
			b.WriteString(" " + ClausePause)
		}
	}
	return b.String()
}

// StripPauseMarkers removes markers inserted by OptimizeForSpeech.
func StripPauseMarkers(text string) string {
	return strings.TrimSpace(pauseMarkerRe.ReplaceAllString(text, ""))
}

// EstimateDuration returns the spoken length of text at WordsPerMinute.
func EstimateDuration(text string) time.Duration {
	words := WordCount(StripPauseMarkers(text))
	return time.Duration(float64(words) / WordsPerMinute * float64(time.Minute))
}
