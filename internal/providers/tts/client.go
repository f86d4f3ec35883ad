package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"episode-generator/internal/models"
	"episode-generator/internal/providers"
	"episode-generator/internal/summarize"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	defaultMaxChars    = 4096
	maxAudioBytes      = 100 * 1024 * 1024
)

// Config captures the speech API settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Format  string
	// SSML keeps pause markers in the request text for providers that
	// understand <break/> tags.
	SSML     bool
	MaxChars int
	Timeout  time.Duration
}

// Client wraps an OpenAI-compatible speech endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a TTS client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1/audio/speech"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// MaxChars is the longest text accepted in one request.
func (c *Client) MaxChars() int {
	return c.cfg.MaxChars
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders text to audio. voice overrides the configured voice when set.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (models.Audio, error) {
	if !c.cfg.SSML {
		text = summarize.StripPauseMarkers(text)
	}
	if strings.TrimSpace(text) == "" {
		return models.Audio{}, errors.New("tts synthesize: text required")
	}
	if voice == "" {
		voice = c.cfg.Voice
	}
	encoded, err := json.Marshal(speechRequest{
		Model:          c.cfg.Model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: c.cfg.Format,
	})
	if err != nil {
		return models.Audio{}, fmt.Errorf("tts request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return models.Audio{}, fmt.Errorf("tts request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Audio{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse("tts", resp); err != nil {
		return models.Audio{}, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return models.Audio{}, fmt.Errorf("tts request: read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return models.Audio{}, fmt.Errorf("tts request: audio too large (>%d bytes)", maxAudioBytes)
	}
	if len(data) == 0 {
		return models.Audio{}, errors.New("tts request: empty audio")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = mimeForFormat(c.cfg.Format)
	}
	return models.Audio{
		Data:        data,
		ContentType: contentType,
		Format:      c.cfg.Format,
		Characters:  len([]rune(text)),
	}, nil
}

func mimeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
