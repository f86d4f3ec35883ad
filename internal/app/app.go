// Package app wires configuration, providers, storage and the processor
// into a runnable service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"episode-generator/internal/config"
	"episode-generator/internal/cost"
	"episode-generator/internal/events"
	"episode-generator/internal/processor"
	"episode-generator/internal/providers/artwork"
	"episode-generator/internal/providers/llm"
	"episode-generator/internal/providers/scrape"
	"episode-generator/internal/providers/storage"
	"episode-generator/internal/providers/tts"
	"episode-generator/internal/ratelimit"
	"episode-generator/internal/stages"
	"episode-generator/internal/store"
	"episode-generator/internal/summarize"
)

const (
	eventRetention = 30 * 24 * time.Hour
	spendTTL       = 48 * time.Hour
)

// NewLogger builds a development logger for APP_ENV=dev and a production
// JSON logger otherwise, at LOG_LEVEL.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Env == "dev" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Runtime holds the wired service. Close releases it in reverse order.
type Runtime struct {
	Processor *processor.QueueProcessor
	Events    *events.Log
	Ledger    *cost.Ledger
	Limiter   *ratelimit.TokenBucket

	logger  *zap.Logger
	closers []func()
}

// Build connects the optional Redis and Postgres backends and assembles
// the processor. Redis holds spend and enqueue limits; Postgres archives
// items and events.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger}
	ledgerOpts := []cost.Option{cost.WithLocation(cfg.Cost.Location()), cost.WithLogger(logger)}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		ledgerOpts = append(ledgerOpts, cost.WithSpendStore(cost.NewRedisSpendStore(client, spendTTL)))
		if cfg.EnqueueRateCapacity > 0 {
			rt.Limiter = ratelimit.NewTokenBucket(client, "enqueue:", cfg.EnqueueRateCapacity, cfg.EnqueueRateRefill, time.Hour)
		}
	}

	var archive processor.Archive
	eventOpts := []events.Option{}
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		if n, err := pg.PurgeEvents(ctx, time.Now().Add(-eventRetention)); err != nil {
			logger.Warn("purge old events", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged old events", zap.Int64("rows", n))
		}
		archive = pg
		eventOpts = append(eventOpts, events.WithSink(pg))
	}

	rt.Ledger = cost.NewLedger(cfg.Cost.DailyLimit, cfg.Cost.PerJobLimit, ledgerOpts...)
	if err := rt.Ledger.Restore(ctx); err != nil {
		logger.Warn("restore daily spend", zap.Error(err))
	}
	rt.Events = events.New(logger, eventOpts...)
	rt.closers = append(rt.closers, rt.Events.Close)

	executors, err := buildExecutors(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	proc, err := processor.New(processor.ConfigFrom(cfg), processor.Deps{
		Store:     store.NewMemory(nil),
		Ledger:    rt.Ledger,
		Executors: executors,
		Events:    rt.Events,
		Archive:   archive,
		Logger:    logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Processor = proc
	return rt, nil
}

func buildExecutors(ctx context.Context, cfg config.Config) (stages.Set, error) {
	rates := cost.Rates{
		CostPerThousandTokens: cfg.Cost.CostPerThousandTokens,
		CostPerCharacter:      cfg.Cost.CostPerCharacter,
		UploadFlatFee:         cfg.Cost.UploadFlatFee,
		UploadCostPerMB:       cfg.Cost.UploadCostPerMB,
		ScrapeFlatFee:         cfg.Cost.ScrapeFlatFee,
	}

	model := llm.NewClient(llm.Config{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Temperature: 0.4,
	}, nil)
	summarizer := summarize.NewService(model,
		summarize.WithThresholds(summarize.Thresholds{
			MinCoherence:   cfg.Quality.MinCoherence,
			MinRelevance:   cfg.Quality.MinRelevance,
			MinReadability: cfg.Quality.MinReadability,
		}),
		summarize.WithMaxContentLength(cfg.Queue.MaxContentLength),
	)
	speech := tts.NewClient(tts.Config{
		APIKey:  cfg.TTSAPIKey,
		BaseURL: cfg.TTSBaseURL,
		Model:   cfg.TTSModel,
		Voice:   cfg.TTSVoice,
		Format:  cfg.TTSFormat,
	}, nil)

	var uploader storage.Uploader = storage.NewLocal(cfg.OutputDir, cfg.PublicBaseURL)
	if cfg.S3Bucket != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		uploader = s3
	}
	var art stages.ArtworkRenderer
	if cfg.ArtworkEnabled {
		art = artwork.NewRenderer(cfg.ArtworkSize, cfg.ScrapeTimeout)
	}

	return stages.NewSet(
		stages.NewScrape(scrape.NewFetcher(cfg.ScrapeTimeout, cfg.ScrapeMaxBytes), rates),
		stages.NewSummarize(summarizer, rates),
		stages.NewSynthesize(speech, rates),
		stages.NewUpload(uploader, art, rates),
	), nil
}

// Shutdown stops the processor, waiting up to ctx for in-flight stages, then
// releases backends. Backends stay open while stages are still draining so
// their results can still be committed and logged.
func (rt *Runtime) Shutdown(ctx context.Context) bool {
	if rt.Processor != nil {
		if res := rt.Processor.Close(ctx); !res.Success {
			rt.logger.Warn("processor shutdown; leaving backends open", zap.String("result", res.Message))
			return false
		}
	}
	rt.Close()
	return true
}

// Close releases backends without waiting for the processor.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
