package stages

import (
	"context"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/summarize"
)

// Summarizer produces a quality-gated summary.
type Summarizer interface {
	Summarize(ctx context.Context, content string, o summarize.Options) (summarize.Result, error)
}

// Summarize runs the summarization service and prices the model call.
type Summarize struct {
	base
	svc Summarizer
}

func NewSummarize(svc Summarizer, rates cost.Rates) *Summarize {
	return &Summarize{base: base{rates: rates}, svc: svc}
}

func (s *Summarize) Stage() models.Stage { return models.StageSummarize }

func articleText(p models.Payload) string {
	if p.Article != nil && p.Article.Text != "" {
		return p.Article.Text
	}
	return p.RawContent
}

func summaryOptions(meta Meta) summarize.Options {
	return summarize.Options{TargetLength: meta.Options.TargetLength, Style: meta.Options.Style}
}

// Project prices the full prompt plus the largest completion requested.
func (s *Summarize) Project(payload models.Payload, meta Meta) float64 {
	content := articleText(payload)
	if content == "" {
		return 0
	}
	o := summaryOptions(meta)
	return s.rates.Summarization(summarize.PromptLength(content, o), summarize.MaxOutputLength(o))
}

func (s *Summarize) Execute(ctx context.Context, payload models.Payload, meta Meta) (Result, error) {
	res, err := s.svc.Summarize(ctx, articleText(payload), summaryOptions(meta))
	spent := 0.0
	if res.OutputChars > 0 {
		spent = s.rates.Summarization(res.InputChars, res.OutputChars)
	}
	if err != nil {
		f := Classify(models.StageSummarize, err)
		f.Cost = spent
		return Result{}, f
	}
	summary := res.Summary
	payload.Summary = &summary
	return Result{Payload: payload, Cost: spent}, nil
}
