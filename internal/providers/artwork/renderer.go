package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

// Renderer turns an article's lead image into square episode cover art.
type Renderer struct {
	httpClient *http.Client
	size       int
	maxBytes   int64
}

// NewRenderer builds a renderer producing size x size JPEGs.
func NewRenderer(size int, timeout time.Duration) *Renderer {
	if size <= 0 {
		size = 1400
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{
		httpClient: &http.Client{Timeout: timeout},
		size:       size,
		maxBytes:   25 * 1024 * 1024,
	}
}

// Render downloads imageURL, crops it to a centered square and encodes it as JPEG.
func (r *Renderer) Render(ctx context.Context, imageURL string) ([]byte, string, error) {
	data, err := r.download(ctx, imageURL)
	if err != nil {
		return nil, "", err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Fill(img, r.size, r.size, imaging.Center, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func (r *Renderer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, fmt.Errorf("image too large (>%d bytes)", r.maxBytes)
	}
	return body, nil
}
