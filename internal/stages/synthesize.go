package stages

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/summarize"
)

// SpeechSynthesizer renders text to audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (models.Audio, error)
	MaxChars() int
}

// Synthesize converts the speech-ready summary into audio, chunking the
// text at the provider's request limit.
type Synthesize struct {
	base
	tts SpeechSynthesizer
}

func NewSynthesize(tts SpeechSynthesizer, rates cost.Rates) *Synthesize {
	return &Synthesize{base: base{rates: rates}, tts: tts}
}

func (s *Synthesize) Stage() models.Stage { return models.StageGenerateAudio }

func speechText(p models.Payload) string {
	if p.Summary == nil {
		return ""
	}
	if p.Summary.TTSText != "" {
		return p.Summary.TTSText
	}
	return p.Summary.Text
}

func (s *Synthesize) Project(payload models.Payload, _ Meta) float64 {
	return s.rates.Synthesis(utf8.RuneCountInString(summarize.StripPauseMarkers(speechText(payload))))
}

func (s *Synthesize) Execute(ctx context.Context, payload models.Payload, meta Meta) (Result, error) {
	text := speechText(payload)
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: no summary to synthesize", ErrMissingInput)
	}

	chunks := Chunk(text, s.tts.MaxChars())
	var audio models.Audio
	for i, chunk := range chunks {
		part, err := s.tts.Synthesize(ctx, chunk, meta.Options.Voice)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio.Data = append(audio.Data, part.Data...)
		audio.ContentType = part.ContentType
		audio.Format = part.Format
	}
	plain := summarize.StripPauseMarkers(text)
	audio.Characters = utf8.RuneCountInString(plain)
	audio.Duration = summarize.EstimateDuration(plain)
	payload.Audio = &audio

	res := Result{Payload: payload, Cost: s.rates.Synthesis(audio.Characters)}
	if len(chunks) > 1 {
		res.Notes = append(res.Notes, fmt.Sprintf("synthesized in %d chunks", len(chunks)))
	}
	return res, nil
}

// Chunk splits text into pieces of at most limit characters, measured with
// pause markers removed. Sentence pauses are preferred split points, then
// word boundaries.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(summarize.StripPauseMarkers(text)) <= limit {
		return []string{text}
	}
	size := func(s string) int { return utf8.RuneCountInString(summarize.StripPauseMarkers(s)) }

	var out []string
	var cur strings.Builder
	flush := func() {
		if strings.TrimSpace(cur.String()) != "" {
			out = append(out, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && size(cur.String()+sep+piece) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, sentence := range strings.SplitAfter(text, summarize.SentencePause) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if size(sentence) <= limit {
			add(sentence, " ")
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for size(word) > limit {
				r := []rune(word)
				add(string(r[:limit]), " ")
				word = string(r[limit:])
			}
			add(word, " ")
		}
	}
	flush()
	return out
}
