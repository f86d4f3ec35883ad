package stages

import (
	"context"
	"fmt"

	"episode-generator/internal/cost"
	"episode-generator/internal/models"
	"episode-generator/internal/providers/storage"
)

// artworkAllowance is the size budgeted for cover art when projecting cost.
const artworkAllowance = 2 * 1024 * 1024

// ArtworkRenderer turns a lead image URL into cover art bytes.
type ArtworkRenderer interface {
	Render(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Upload stores the episode audio and, when possible, cover art.
type Upload struct {
	base
	uploader storage.Uploader
	artwork  ArtworkRenderer
}

// NewUpload builds the upload stage. artwork may be nil.
func NewUpload(uploader storage.Uploader, artwork ArtworkRenderer, rates cost.Rates) *Upload {
	return &Upload{base: base{rates: rates}, uploader: uploader, artwork: artwork}
}

func (u *Upload) Stage() models.Stage { return models.StageUpload }

func (u *Upload) wantsArtwork(p models.Payload) bool {
	return u.artwork != nil && p.Article != nil && p.Article.ImageURL != ""
}

func (u *Upload) Project(payload models.Payload, _ Meta) float64 {
	size := 0
	if payload.Audio != nil {
		size = len(payload.Audio.Data)
	}
	projected := u.rates.Upload(size)
	if u.wantsArtwork(payload) {
		projected += u.rates.Upload(artworkAllowance)
	}
	return projected
}

// EpisodeKey is the storage key for an item's audio.
func EpisodeKey(meta Meta, format string) string {
	if format == "" {
		format = "mp3"
	}
	return fmt.Sprintf("episodes/%s/%s.%s", meta.Now.UTC().Format("2006/01/02"), meta.ItemID, format)
}

func (u *Upload) Execute(ctx context.Context, payload models.Payload, meta Meta) (Result, error) {
	if payload.Audio == nil || len(payload.Audio.Data) == 0 {
		return Result{}, fmt.Errorf("%w: no audio to upload", ErrMissingInput)
	}
	audio := payload.Audio
	url, err := u.uploader.Upload(ctx, EpisodeKey(meta, audio.Format), audio.Data, audio.ContentType)
	if err != nil {
		return Result{}, err
	}
	res := Result{Cost: u.rates.Upload(len(audio.Data))}
	payload.EpisodeURL = url

	if u.wantsArtwork(payload) {
		if artURL, size, err := u.uploadArtwork(ctx, payload.Article.ImageURL, meta); err != nil {
			res.Notes = append(res.Notes, "artwork skipped: "+err.Error())
		} else {
			payload.ArtworkURL = artURL
			res.Cost += u.rates.Upload(size)
		}
	}

	// Audio bytes live in storage now; keep only the metadata.
	trimmed := *audio
	trimmed.Data = nil
	payload.Audio = &trimmed
	res.Payload = payload
	return res, nil
}

func (u *Upload) uploadArtwork(ctx context.Context, imageURL string, meta Meta) (string, int, error) {
	data, contentType, err := u.artwork.Render(ctx, imageURL)
	if err != nil {
		return "", 0, err
	}
	key := fmt.Sprintf("artwork/%s/%s.jpg", meta.Now.UTC().Format("2006/01/02"), meta.ItemID)
	url, err := u.uploader.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", 0, err
	}
	return url, len(data), nil
}
