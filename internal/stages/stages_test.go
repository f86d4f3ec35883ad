package stages

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/providers"
	"episode-generator/internal/summarize"
)

var testRates = cost.Rates{
	CostPerThousandTokens: 0.002,
	CostPerCharacter:      0.000015,
	UploadFlatFee:         0.00001,
	UploadCostPerMB:       0.0001,
}

const article = "The city council approved a new transit budget on Tuesday after a long debate. " +
	"The budget adds twelve bus routes and extends service hours across the northern districts. " +
	"Council members said the plan responds to rider complaints about crowded buses and long waits. " +
	"However, opponents argued the budget relies on optimistic fare projections. " +
	"The transit agency will begin hiring drivers next month, and the new routes should launch in spring."

type echoModel struct {
	reply string
	err   error
}

func (m echoModel) Complete(context.Context, string, string, int) (string, error) {
	return m.reply, m.err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{"rate limited", &providers.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}, models.FailureRateLimited},
		{"server error", fmt.Errorf("call: %w", &providers.StatusError{StatusCode: http.StatusBadGateway}), models.FailureTransient},
		{"client error", &providers.StatusError{StatusCode: http.StatusBadRequest}, models.FailureInputValidation},
		{"invalid input", summarize.ErrContentTooLong, models.FailureInputValidation},
		{"quality gate", fmt.Errorf("%w: coherence", summarize.ErrQualityGate), models.FailureQualityGate},
		{"empty completion", summarize.ErrEmptyCompletion, models.FailureTransient},
		{"deadline", context.DeadlineExceeded, models.FailureTransient},
		{"missing input", ErrMissingInput, models.FailureInputValidation},
		{"other", errors.New("boom"), models.FailureUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify(models.StageSummarize, tc.err)
			require.NotNil(t, f)
			assert.Equal(t, tc.want, f.Kind)
			assert.Equal(t, models.StageSummarize, f.Stage)
			assert.ErrorIs(t, f, tc.err)
		})
	}

	f := Classify(models.StageScrape, &providers.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second})
	assert.Equal(t, 7*time.Second, f.RetryAfter)
	assert.Nil(t, Classify(models.StageScrape, nil))
}

func TestClassify_KeepsExistingFailure(t *testing.T) {
	orig := &Failure{Kind: models.FailureQualityGate, Message: "low", Cost: 0.01}
	f := Classify(models.StageSummarize, fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, f)
	assert.Equal(t, models.StageSummarize, f.Stage)
}

type fakeFetcher struct {
	article models.Article
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(context.Context, string) (models.Article, error) {
	f.calls++
	return f.article, f.err
}

func TestScrape(t *testing.T) {
	fetcher := &fakeFetcher{article: models.Article{Text: article, ImageURL: "https://img.example.com/a.png"}}
	s := NewScrape(fetcher, testRates)

	res, err := s.Execute(context.Background(), models.Payload{RawContent: article}, Meta{Title: "Budget"})
	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, "Budget", res.Payload.Article.Title)

	res, err = s.Execute(context.Background(), models.Payload{}, Meta{Title: "Budget", SourceURL: "https://news.example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, "Budget", res.Payload.Article.Title)
	assert.Equal(t, "https://img.example.com/a.png", res.Payload.Article.ImageURL)

	_, err = s.Execute(context.Background(), models.Payload{}, Meta{})
	assert.Equal(t, models.FailureInputValidation, Classify(models.StageScrape, err).Kind)
}

func TestSummarize_ProjectCoversActual(t *testing.T) {
	reply := "The city council approved a transit budget that adds twelve bus routes. " +
		"However, opponents argued the fare projections are optimistic. " +
		"The agency will begin hiring drivers next month, so you can expect new routes in spring."
	s := NewSummarize(summarize.NewService(echoModel{reply: reply}), testRates)
	payload := models.Payload{Article: &models.Article{Text: article}}
	meta := Meta{Options: models.EpisodeOptions{TargetLength: 60}}

	projected := s.Project(payload, meta)
	res, err := s.Execute(context.Background(), payload, meta)
	require.NoError(t, err)
	require.NotNil(t, res.Payload.Summary)
	assert.Positive(t, res.Cost)
	assert.LessOrEqual(t, res.Cost, projected)
	assert.Contains(t, res.Payload.Summary.TTSText, summarize.SentencePause)
}

func TestSummarize_QualityGateCarriesCost(t *testing.T) {
	s := NewSummarize(summarize.NewService(echoModel{reply: "Zebras enjoy quantum violins. Purple mountains sing loudly."}), testRates)
	_, err := s.Execute(context.Background(), models.Payload{Article: &models.Article{Text: article}}, Meta{})
	require.Error(t, err)

	f := Classify(models.StageSummarize, err)
	assert.Equal(t, models.FailureQualityGate, f.Kind)
	assert.Positive(t, f.Cost)
}

type fakeTTS struct {
	max    int
	inputs []string
	err    error
}

func (f *fakeTTS) MaxChars() int { return f.max }

func (f *fakeTTS) Synthesize(_ context.Context, text, _ string) (models.Audio, error) {
	if f.err != nil {
		return models.Audio{}, f.err
	}
	f.inputs = append(f.inputs, text)
	return models.Audio{Data: []byte(text[:1]), ContentType: "audio/mpeg", Format: "mp3"}, nil
}

func TestSynthesize_ChunksAndPrices(t *testing.T) {
	tts := &fakeTTS{max: 120}
	s := NewSynthesize(tts, testRates)
	text := summarize.OptimizeForSpeech(article)
	payload := models.Payload{Summary: &models.Summary{Text: article, TTSText: text}}

	projected := s.Project(payload, Meta{})
	res, err := s.Execute(context.Background(), payload, Meta{})
	require.NoError(t, err)
	require.Greater(t, len(tts.inputs), 1)
	for _, in := range tts.inputs {
		assert.LessOrEqual(t, len([]rune(summarize.StripPauseMarkers(in))), 120)
	}
	assert.Len(t, res.Payload.Audio.Data, len(tts.inputs))
	assert.InDelta(t, projected, res.Cost, 1e-12)
	assert.Positive(t, res.Payload.Audio.Duration)
}

func TestSynthesize_MissingSummary(t *testing.T) {
	_, err := NewSynthesize(&fakeTTS{max: 100}, testRates).Execute(context.Background(), models.Payload{}, Meta{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"short text"}, Chunk("short text", 100))

	long := strings.Repeat("word ", 50)
	chunks := Chunk(long, 30)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 30)
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(chunks, " ")))
}

type memUploader struct {
	objects map[string][]byte
	err     error
}

func (m *memUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return "https://cdn.example.com/" + key, nil
}

type fakeArtwork struct{ err error }

func (f fakeArtwork) Render(context.Context, string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("jpeg"), "image/jpeg", nil
}

func TestUpload(t *testing.T) {
	up := &memUploader{}
	u := NewUpload(up, fakeArtwork{}, testRates)
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	meta := Meta{ItemID: "item-1", Now: now}
	payload := models.Payload{
		Article: &models.Article{ImageURL: "https://img.example.com/a.png"},
		Audio:   &models.Audio{Data: []byte("mp3-bytes"), Format: "mp3", ContentType: "audio/mpeg"},
	}

	projected := u.Project(payload, meta)
	res, err := u.Execute(context.Background(), payload, meta)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/episodes/2026/10/15/item-1.mp3", res.Payload.EpisodeURL)
	assert.Equal(t, "https://cdn.example.com/artwork/2026/10/15/item-1.jpg", res.Payload.ArtworkURL)
	assert.Nil(t, res.Payload.Audio.Data)
	assert.Equal(t, "mp3", res.Payload.Audio.Format)
	assert.LessOrEqual(t, res.Cost, projected)
	assert.Len(t, up.objects, 2)
}

func TestUpload_ArtworkFailureIsNotFatal(t *testing.T) {
	u := NewUpload(&memUploader{}, fakeArtwork{err: errors.New("decode image")}, testRates)
	payload := models.Payload{
		Article: &models.Article{ImageURL: "https://img.example.com/a.png"},
		Audio:   &models.Audio{Data: []byte("x"), Format: "mp3"},
	}
	res, err := u.Execute(context.Background(), payload, Meta{ItemID: "a", Now: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, res.Payload.ArtworkURL)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "artwork skipped")
}

func TestSet_Missing(t *testing.T) {
	set := NewSet(NewScrape(nil, testRates), NewUpload(&memUploader{}, nil, testRates))
	assert.Equal(t, []models.Stage{models.StageSummarize, models.StageGenerateAudio}, set.Missing())
}
