package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs sweeps on a fixed period. Deployments that prefer an external
// cron hit the HTTP trigger instead and run with the worker disabled.
type Worker struct {
	sweeper  *Sweeper
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(sweeper *Sweeper, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Worker{sweeper: sweeper, logger: logger, interval: interval}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
				w.logger.Error("scheduled sweep failed", "err", err)
			}
		}
	}
}
