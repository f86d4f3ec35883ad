package summarize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInvalidInput    = errors.New("invalid summarization input")
	ErrEmptyContent    = fmt.Errorf("%w: content is empty", ErrInvalidInput)
	ErrContentTooLong  = fmt.Errorf("%w: content exceeds maximum length", ErrInvalidInput)
	ErrEmptyCompletion = errors.New("language model returned an empty summary")
)

var (
	bracketedRe   = regexp.MustCompile(`\[[^\]]*\]`)
	advertRe      = regexp.MustCompile(`(?i)\b(advertisement|sponsored content|ad feedback)\b:?`)
	continueRe    = regexp.MustCompile(`(?i)\b(continue|keep) reading\b[^.!?\n]*[.!?…]*`)
	spaceBeforeRe = regexp.MustCompile(`\s+([.,!?;:])`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'", "′", "'",
	)
)

// Validate rejects empty content and content longer than maxLength characters.
// A non-positive maxLength disables the length check.
func Validate(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if n := utf8.RuneCountInString(content); maxLength > 0 && n > maxLength {
		return fmt.Errorf("%w (%d > %d characters)", ErrContentTooLong, n, maxLength)
	}
	return nil
}

// Preprocess strips scraping artifacts and normalizes whitespace and quotes.
func Preprocess(content string) string {
	out := quoteReplacer.Replace(content)
	out = bracketedRe.ReplaceAllString(out, " ")
	out = advertRe.ReplaceAllString(out, " ")
	out = continueRe.ReplaceAllString(out, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = spaceBeforeRe.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// SplitSentences breaks text on sentence-ending punctuation followed by
// whitespace or end of text.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isSentenceEnd(text[i]) {
			continue
		}
		j := i + 1
		for j < len(text) && (isSentenceEnd(text[j]) || text[j] == '"' || text[j] == '\'' || text[j] == ')') {
			j++
		}
		if j < len(text) && !isSpace(text[j]) {
			continue
		}
		if s := strings.TrimSpace(text[start:j]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Tokens returns lowercase alphanumeric words of at least minLen runes.
func Tokens(text string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if utf8.RuneCountInString(f) >= minLen {
			out = append(out, f)
		}
	}
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
