package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"episode-generator/internal/models"
)

// Postgres archives queue item snapshots and processor events. The
// in-memory store stays authoritative; this is a write-through record
// for dashboards and post-mortems.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveItem upserts the current state of a queue item.
func (s *Postgres) SaveItem(ctx context.Context, item models.QueueItem) error {
	attempts, err := json.Marshal(item.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	var summary []byte
	if item.Payload.Summary != nil {
		if summary, err = json.Marshal(item.Payload.Summary); err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO episode_items (id, episode_title, source_name, source_url, status, progress, cost_to_date,
			attempts, last_error, failure_kind, episode_url, artwork_url, summary, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			cost_to_date = EXCLUDED.cost_to_date,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			failure_kind = EXCLUDED.failure_kind,
			episode_url = EXCLUDED.episode_url,
			artwork_url = EXCLUDED.artwork_url,
			summary = COALESCE(EXCLUDED.summary, episode_items.summary),
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`, item.ID, item.EpisodeTitle, item.SourceName, emptyToNil(item.SourceURL), string(item.Status), item.Progress,
		item.CostToDate, attempts, emptyToNil(item.LastError), emptyToNil(string(item.FailureKind)),
		emptyToNil(item.EpisodeURL), emptyToNil(item.ArtworkURL), summary, item.CreatedAt, item.UpdatedAt, item.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// GetItem reads an archived item. Payload fields other than the summary
// are not archived.
func (s *Postgres) GetItem(ctx context.Context, id string) (models.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, episode_title, source_name, source_url, status, progress, cost_to_date, attempts,
			last_error, failure_kind, episode_url, artwork_url, summary, created_at, updated_at, completed_at
		FROM episode_items WHERE id = $1
	`, id)

	var (
		item                                   models.QueueItem
		status                                 string
		attempts, summary                      []byte
		sourceURL, lastErr, kind, episode, art pgtype.Text
	)
	if err := row.Scan(&item.ID, &item.EpisodeTitle, &item.SourceName, &sourceURL, &status, &item.Progress,
		&item.CostToDate, &attempts, &lastErr, &kind, &episode, &art, &summary,
		&item.CreatedAt, &item.UpdatedAt, &item.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.QueueItem{}, fmt.Errorf("scan item: %w", err)
	}
	item.Status = models.Status(status)
	item.SourceURL = sourceURL.String
	item.LastError = lastErr.String
	item.FailureKind = models.FailureKind(kind.String)
	item.EpisodeURL = episode.String
	item.ArtworkURL = art.String
	if err := json.Unmarshal(attempts, &item.Attempts); err != nil {
		return models.QueueItem{}, fmt.Errorf("unmarshal attempts: %w", err)
	}
	if len(summary) > 0 {
		var sum models.Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return models.QueueItem{}, fmt.Errorf("unmarshal summary: %w", err)
		}
		item.Payload.Summary = &sum
	}
	return item, nil
}

// AppendEvent adds a processor event row.
func (s *Postgres) AppendEvent(ctx context.Context, ev models.LogEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processor_events (id, level, message, queue_item_id, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, string(ev.Level), ev.Message, emptyToNil(ev.QueueItemID), ev.Timestamp)
	return err
}

// PurgeEvents deletes events older than the cutoff and returns how many were removed.
func (s *Postgres) PurgeEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processor_events WHERE ts < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
