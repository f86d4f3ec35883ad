// Package summarize turns article text into a validated, quality-gated,
// speech-ready summary.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"episode-generator/internal/models"
)

// LanguageModel is the text generation collaborator.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Options carries the per-episode summary settings.
type Options struct {
	TargetLength int
	Style        string
}

func (o Options) withDefaults() Options {
	if o.TargetLength <= 0 {
		o.TargetLength = 150
	}
	if strings.TrimSpace(o.Style) == "" {
		o.Style = "conversational"
	}
	return o
}

// Result is a summary plus the character counts it was priced on.
type Result struct {
	Summary     models.Summary
	InputChars  int
	OutputChars int
}

// Service runs validation, preprocessing, generation and the quality gate.
type Service struct {
	model            LanguageModel
	assessor         QualityAssessor
	thresholds       Thresholds
	maxContentLength int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithAssessor replaces the heuristic quality assessor.
func WithAssessor(a QualityAssessor) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.assessor = a
		}
	}
}

// WithThresholds sets the minimum quality scores.
func WithThresholds(t Thresholds) ServiceOption {
	return func(s *Service) {
		s.thresholds = t
	}
}

// WithMaxContentLength sets the hard input limit in characters.
func WithMaxContentLength(n int) ServiceOption {
	return func(s *Service) {
		s.maxContentLength = n
	}
}

// NewService builds a Service around model.
func NewService(model LanguageModel, opts ...ServiceOption) *Service {
	s := &Service{
		model:            model,
		assessor:         HeuristicAssessor{},
		thresholds:       Thresholds{MinCoherence: 0.3, MinRelevance: 0.3, MinReadability: 0.3},
		maxContentLength: 50000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const systemPrompt = "You write short spoken news segments for a podcast. " +
	"Use plain prose for a single narrator: no headings, lists, markdown or stage directions. " +
	"Only state facts found in the article."

func userPrompt(content string, o Options) string {
	return fmt.Sprintf("Summarize the article below in about %d words, in a %s style. "+
		"Open with the main news, explain why it matters, and close with what happens next.\n\nArticle:\n%s",
		o.TargetLength, o.Style, content)
}

// MaxOutputTokens is the completion budget requested from the model.
func MaxOutputTokens(o Options) int {
	return o.withDefaults().TargetLength * 2
}

// PromptLength returns the character count of the prompts sent for content.
func PromptLength(content string, o Options) int {
	o = o.withDefaults()
	return utf8.RuneCountInString(systemPrompt) + utf8.RuneCountInString(userPrompt(Preprocess(content), o))
}

// MaxOutputLength is the character count the completion is expected not to exceed.
func MaxOutputLength(o Options) int {
	return MaxOutputTokens(o) * 4
}

// Summarize produces a summary of content. Errors wrap ErrInvalidInput for
// bad content, ErrQualityGate when the summary scores too low (the Result
// is still returned so the spend can be accounted), ErrEmptyCompletion, or
// the model's own error.
func (s *Service) Summarize(ctx context.Context, content string, o Options) (Result, error) {
	o = o.withDefaults()
	if err := Validate(content, s.maxContentLength); err != nil {
		return Result{}, err
	}
	clean := Preprocess(content)
	if clean == "" {
		return Result{}, ErrEmptyContent
	}

	user := userPrompt(clean, o)
	res := Result{InputChars: utf8.RuneCountInString(systemPrompt) + utf8.RuneCountInString(user)}

	raw, err := s.model.Complete(ctx, systemPrompt, user, MaxOutputTokens(o))
	if err != nil {
		return res, err
	}
	res.OutputChars = utf8.RuneCountInString(raw)
	text := whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), " ")
	if text == "" {
		return res, ErrEmptyCompletion
	}

	scores := s.assessor.Assess(clean, text)
	res.Summary = models.Summary{Text: text, Quality: scores, WordCount: WordCount(text)}
	if err := s.thresholds.Check(scores); err != nil {
		return res, err
	}

	tts := OptimizeForSpeech(text)
	res.Summary.KeyPoints = KeyPoints(text)
	res.Summary.Takeaways = Takeaways(text)
	res.Summary.TTSText = tts
	res.Summary.EstimatedDuration = EstimateDuration(tts)
	return res, nil
}
