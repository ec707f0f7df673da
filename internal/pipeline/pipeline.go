package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/binder"
	"github.com/strata-dw/strata/internal/core/partition"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
	"github.com/strata-dw/strata/internal/latearrival"
	"github.com/strata-dw/strata/internal/metrics"
	"github.com/strata-dw/strata/internal/rollup"
)

// Processor is the checkpoint name of the ledger-apply pipeline.
const Processor = "warehouse-apply"

const (
	defaultBatchSize   = 5000
	defaultWorkerCount = 8
)

// Options control one pipeline's throughput.
type Options struct {
	BatchSize   int
	WorkerCount int
}

func (o Options) normalized() Options {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	return n
}

// Pipeline drains the change ledger into dimension history, bound
// facts and aggregate buckets. Each batch reads the ledger after the
// durable checkpoint, applies records partitioned by durable key, and
// flushes every staged mutation plus the advanced checkpoint in one
// store transaction.
type Pipeline struct {
	stores      *storage.Stores
	versioner   *dimension.Versioner
	binder      *binder.Binder
	coordinator *latearrival.Coordinator
	rollup      *rollup.Rebuilder
	opts        Options
}

// New assembles a pipeline over the given stores and services. The
// rebuilder is the single source of bucket deltas, incremental and
// full-rebuild alike.
func New(stores *storage.Stores, versioner *dimension.Versioner, b *binder.Binder, coordinator *latearrival.Coordinator, rebuilder *rollup.Rebuilder, opts Options) *Pipeline {
	return &Pipeline{
		stores:      stores,
		versioner:   versioner,
		binder:      b,
		coordinator: coordinator,
		rollup:      rebuilder,
		opts:        opts.normalized(),
	}
}

// RunBatch processes one batch of ledger records. Returns the number of
// records read; zero means the ledger is drained.
func (p *Pipeline) RunBatch(ctx context.Context) (int, error) {
	started := time.Now()

	cp, err := p.stores.Buckets.ReadCheckpoint(ctx, Processor)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	records, err := p.stores.Ledger.ReadAfterCursor(ctx, cp.Cursor, p.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	runID, err := p.stores.Runs.StartRun(ctx, Processor)
	if err != nil {
		return 0, fmt.Errorf("open run record: %w", err)
	}

	merged, err := p.applyRecords(ctx, cp, records)
	if err != nil {
		p.completeRun(ctx, runID, storage.RunFailed, storage.RunCounts{}, err.Error())
		return 0, err
	}

	for _, esc := range merged.escalations {
		// Reporting is an upsert keyed by (kind, key, token): a replayed
		// batch never re-raises an entry the operator already resolved.
		if err := p.stores.Errors.Report(ctx, *esc); err != nil {
			p.completeRun(ctx, runID, storage.RunFailed, merged.counts, err.Error())
			return 0, fmt.Errorf("report escalation: %w", err)
		}
	}

	batch := storage.BatchApply{
		Processor: Processor,
		Facts:     merged.facts,
		Parks:     merged.parks,
		Unparks:   merged.unparks,
		Rebinds:   merged.rebinds,
		Deltas:    merged.sortedDeltas(),
		Cursor:    records[len(records)-1].LedgerSeq,
		Watermark: merged.watermark,
	}
	if err := p.stores.Buckets.ApplyBatch(ctx, batch); err != nil {
		p.completeRun(ctx, runID, storage.RunFailed, merged.counts, err.Error())
		return 0, fmt.Errorf("flush batch: %w", err)
	}

	merged.counts.BucketsUpdated = int64(len(batch.Deltas))
	p.completeRun(ctx, runID, storage.RunSucceeded, merged.counts, "")
	p.observe(ctx, records, merged, started)

	slog.Info("Pipeline batch complete",
		"records", len(records),
		"changes_applied", merged.counts.ChangesApplied,
		"facts_bound", merged.counts.FactsBound,
		"buckets_updated", merged.counts.BucketsUpdated,
		"rebinds", len(batch.Rebinds),
		"late_facts", merged.lateFacts,
		"cursor_advanced", fmt.Sprintf("%d -> %d", cp.Cursor, batch.Cursor),
	)
	return len(records), nil
}

// applyRecords groups the batch by partition and applies each partition
// serially on a bounded worker pool. Partition order within a batch is
// irrelevant: the merge is commutative across keys.
func (p *Pipeline) applyRecords(ctx context.Context, cp storage.Checkpoint, records []*v1.ChangeRecord) (*batchResult, error) {
	partitions := make(map[int][]*v1.ChangeRecord)
	for _, rec := range records {
		id := partition.For(rec.DurableKey)
		partitions[id] = append(partitions[id], rec)
	}

	results := make(chan *batchResult, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.WorkerCount)

	for _, recs := range partitions {
		recs := recs
		g.Go(func() error {
			a := &applier{
				versioner:   p.versioner,
				dims:        p.stores.Dimensions,
				binder:      p.binder,
				coordinator: p.coordinator,
				rollup:      p.rollup,
				watermark:   cp.Watermark,
			}
			res := newBatchResult()
			if err := a.applyPartition(gctx, recs, res); err != nil {
				return err
			}
			results <- res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	merged := newBatchResult()
	for res := range results {
		merged.merge(res)
	}
	return merged, nil
}

func (p *Pipeline) completeRun(ctx context.Context, runID, status string, counts storage.RunCounts, detail string) {
	if err := p.stores.Runs.CompleteRun(ctx, runID, status, counts, detail); err != nil {
		slog.Error("Failed to close run record", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) observe(ctx context.Context, records []*v1.ChangeRecord, merged *batchResult, started time.Time) {
	for _, rec := range records {
		metrics.RecordsApplied.WithLabelValues(rec.Kind).Inc()
	}
	metrics.FactsBound.Add(float64(merged.counts.FactsBound))
	metrics.FactsParked.Add(float64(len(merged.parks)))
	metrics.LateFacts.Add(float64(merged.lateFacts))
	metrics.FactsRebound.Add(float64(len(merged.rebinds)))
	metrics.BucketsUpdated.Add(float64(len(merged.deltas)))
	for _, esc := range merged.escalations {
		if esc.Kind == warehouse.EscalationOutOfOrderChange {
			metrics.ConflictsEscalated.Inc()
		} else {
			metrics.FactsEscalated.Inc()
		}
	}
	if n, err := p.stores.Pending.Count(ctx); err == nil {
		metrics.PendingFacts.Set(float64(n))
	}
	metrics.BatchDuration.Observe(time.Since(started).Seconds())
}
