// Command worker runs the pipeline once over the article URLs given as
// arguments and exits when every episode has completed or failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"episode-generator/internal/app"
	"episode-generator/internal/config"
	"episode-generator/internal/models"
	"episode-generator/internal/processor"
	"episode-generator/internal/telemetry"
)

func main() {
	source := flag.String("source", "cli", "source name recorded on each episode")
	style := flag.String("style", "", "summary style override")
	words := flag.Int("words", 0, "target summary length in words")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <article-url>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build runtime", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	ids := make([]string, 0, flag.NArg())
	for _, u := range flag.Args() {
		item, err := rt.Processor.Enqueue(processor.EnqueueRequest{
			EpisodeTitle: u,
			SourceName:   *source,
			SourceURL:    u,
			Options:      models.EpisodeOptions{Style: *style, TargetLength: *words},
		})
		if err != nil {
			logger.Error("enqueue", zap.String("url", u), zap.Error(err))
			continue
		}
		ids = append(ids, item.ID)
	}

	if err := start(rt.Processor); err != nil {
		logger.Error("start processor", zap.Error(err))
		rt.Close()
		os.Exit(1)
	}
	err = waitTerminal(ctx, rt.Processor, ids, cfg.Queue.PollingInterval)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	rt.Shutdown(shutdownCtx)

	failed := report(rt.Processor, ids)
	if err != nil {
		logger.Warn("worker interrupted", zap.Error(err))
		os.Exit(1)
	}
	if failed > 0 || len(ids) < flag.NArg() {
		os.Exit(1)
	}
}

type starter interface {
	Start() models.ControlResult
}

// start turns a refused Start into an error so the worker does not wait
// on a processor that never runs.
func start(proc starter) error {
	if res := proc.Start(); !res.Success {
		return fmt.Errorf("processor did not start: %s", res.Message)
	}
	return nil
}

func waitTerminal(ctx context.Context, proc *processor.QueueProcessor, ids []string, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		done := true
		for _, id := range ids {
			item, err := proc.Item(id)
			if err != nil || !item.Status.Terminal() {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func report(proc *processor.QueueProcessor, ids []string) int {
	failed := 0
	for _, id := range ids {
		item, err := proc.Item(id)
		if err != nil {
			continue
		}
		switch item.Status {
		case models.StatusCompleted:
			fmt.Printf("%s\tcompleted\t%s\t$%.4f\n", item.SourceURL, item.EpisodeURL, item.CostToDate)
		default:
			failed++
			fmt.Printf("%s\t%s\t%s: %s\n", item.SourceURL, item.Status, item.FailureKind, item.LastError)
		}
	}
	stats := proc.Stats()
	fmt.Printf("episodes=%d failed=%d success_rate=%.2f spent_today=$%.4f\n", len(ids), failed, stats.SuccessRate, stats.TotalCostToday)
	return failed
}
