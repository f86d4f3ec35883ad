package models

import "time"

// Payload is the content object handed from stage to stage:
// raw article, then summary, then audio, then the final URL.
type Payload struct {
	RawContent string   `json:"raw_content,omitempty"`
	Article    *Article `json:"article,omitempty"`
	Summary    *Summary `json:"summary,omitempty"`
	Audio      *Audio   `json:"audio,omitempty"`
	EpisodeURL string   `json:"episode_url,omitempty"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
}

// Article is the scraped source content.
type Article struct {
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

// QualityScores holds the heuristic quality assessment of a summary.
type QualityScores struct {
	Coherence   float64 `json:"coherence"`
	Relevance   float64 `json:"relevance"`
	Readability float64 `json:"readability"`
}

// Summary is the output of the summarize stage.
type Summary struct {
	Text              string        `json:"text"`
	KeyPoints         []string      `json:"key_points,omitempty"`
	Takeaways         []string      `json:"takeaways,omitempty"`
	TTSText           string        `json:"tts_text"`
	WordCount         int           `json:"word_count"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Quality           QualityScores `json:"quality"`
}

// Audio is the synthesized episode binary.
type Audio struct {
	Data        []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	Format      string        `json:"format"`
	Duration    time.Duration `json:"duration"`
	Characters  int           `json:"characters"`
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := p
	if p.Article != nil {
		a := *p.Article
		out.Article = &a
	}
	if p.Summary != nil {
		s := *p.Summary
		s.KeyPoints = append([]string(nil), p.Summary.KeyPoints...)
		s.Takeaways = append([]string(nil), p.Summary.Takeaways...)
		out.Summary = &s
	}
	if p.Audio != nil {
		a := *p.Audio
		a.Data = append([]byte(nil), p.Audio.Data...)
		out.Audio = &a
	}
	return out
}
