package replicator

import (
	"context"
	"log/slog"
	"time"
)

// Worker replays all channels on a fixed interval until its context ends.
type Worker struct {
	Replicator *Replicator
	Interval   time.Duration
	OnStartup  bool
	Logger     *slog.Logger
}

func (w *Worker) Run(ctx context.Context) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if w.OnStartup {
		w.tick(ctx, logger)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("replay worker started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("replay worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx, logger)
		}
	}
}

func (w *Worker) tick(ctx context.Context, logger *slog.Logger) {
	results, err := w.Replicator.SyncAll(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warn("scheduled replay incomplete", "error", err)
	}
	for _, res := range results {
		logger.Debug("scheduled replay", "channel", res.Channel, "processed", res.Processed, "skipped", res.Skipped)
	}
}
