package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives the pipeline on a fixed interval. It is stateless:
// each tick drains whatever backlog the checkpoint reveals.
type Scheduler struct {
	pipeline   *Pipeline
	interval   time.Duration
	maxBacklog int
}

// NewScheduler creates a scheduler. maxBacklog caps consecutive batches
// per drain so a burst cannot starve the tick loop forever.
func NewScheduler(p *Pipeline, interval time.Duration, maxBacklog int) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxBacklog <= 0 {
		maxBacklog = 100
	}
	return &Scheduler{pipeline: p, interval: interval, maxBacklog: maxBacklog}
}

// Start runs until the context is canceled, then performs a final drain
// on a bounded shutdown context so accepted records are not left
// unprocessed across a clean restart.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Starting pipeline scheduler",
		"interval", s.interval,
		"max_backlog_batches", s.maxBacklog)

	// Initial drain catches up after a restart.
	s.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			s.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("Stopping pipeline scheduler")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.drainBacklog(shutdownCtx)
			slog.Info("Final drain complete")
			return nil
		}
	}
}

// drainBacklog runs batches until the ledger is drained or the batch
// cap is reached. A failed batch ends the drain; the next tick retries
// from the durable checkpoint.
func (s *Scheduler) drainBacklog(ctx context.Context) {
	for batches := 0; batches < s.maxBacklog; batches++ {
		select {
		case <-ctx.Done():
			slog.Info("Drain interrupted", "batches_processed", batches)
			return
		default:
		}

		processed, err := s.pipeline.RunBatch(ctx)
		if err != nil {
			slog.Error("Pipeline batch failed", "error", err, "batch_number", batches+1)
			return
		}
		if processed < s.pipeline.opts.BatchSize {
			if batches > 0 {
				slog.Info("Backlog drained", "total_batches", batches+1)
			}
			return
		}
	}

	slog.Warn("Max consecutive batches reached, pausing drain",
		"max_batches", s.maxBacklog,
		"note", "will resume on next tick")
}
