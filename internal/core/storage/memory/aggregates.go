package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// --- BucketStore ---

func (s *Store) ApplyBatch(ctx context.Context, batch storage.BatchApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.checkpoints[batch.Processor]
	if batch.Cursor <= cp.Cursor {
		slog.Warn("Skipping stale batch flush",
			"processor", batch.Processor,
			"cursor", batch.Cursor,
			"durable_cursor", cp.Cursor)
		return nil
	}

	now := time.Now().UTC()

	for _, f := range batch.Facts {
		keyFacts, ok := s.facts[f.DurableKey]
		if !ok {
			keyFacts = make(map[warehouse.VersionToken]*warehouse.Fact)
			s.facts[f.DurableKey] = keyFacts
		}
		token := normalizeToken(f.Token)
		if _, exists := keyFacts[token]; exists {
			continue
		}
		stored := cloneFact(f)
		stored.Token = token
		if stored.BoundAt.IsZero() {
			stored.BoundAt = now
		}
		keyFacts[token] = stored
	}

	for _, pf := range batch.Parks {
		s.parkLocked(pf, now)
	}
	for _, ref := range batch.Unparks {
		if keyPending, ok := s.pending[ref.DurableKey]; ok {
			delete(keyPending, normalizeToken(ref.Token))
		}
	}

	for _, rb := range batch.Rebinds {
		if keyFacts, ok := s.facts[rb.DurableKey]; ok {
			if f, ok := keyFacts[normalizeToken(rb.Token)]; ok {
				f.SurrogateID = rb.ToSurrogateID
			}
		}
	}

	for _, d := range batch.Deltas {
		key := d.Key
		key.PeriodStart = key.PeriodStart.UTC()
		state, ok := s.buckets[key]
		if !ok {
			state = &warehouse.BucketState{Key: key, Measures: make(warehouse.Measures)}
			s.buckets[key] = state
		}
		state.ApplyDelta(d)
		state.UpdatedAt = now
	}

	watermark := cp.Watermark
	if batch.Watermark.After(watermark) {
		watermark = batch.Watermark
	}
	s.checkpoints[batch.Processor] = storage.Checkpoint{
		Processor: batch.Processor,
		Cursor:    batch.Cursor,
		Watermark: normalizeToken(watermark),
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) ReadCheckpoint(ctx context.Context, processor string) (storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[processor]
	if !ok {
		return storage.Checkpoint{Processor: processor}, nil
	}
	return cp, nil
}

func (s *Store) Bucket(ctx context.Context, key warehouse.BucketKey) (*warehouse.BucketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key.PeriodStart = key.PeriodStart.UTC()
	state, ok := s.buckets[key]
	if !ok {
		return nil, nil
	}
	return cloneBucket(state), nil
}

func (s *Store) QueryRange(ctx context.Context, grain warehouse.Grain, start, end time.Time, filter storage.FactFilter) ([]warehouse.BucketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []warehouse.BucketState
	for _, state := range s.buckets {
		if state.Key.Grain != grain {
			continue
		}
		if state.Key.PeriodStart.Before(start) || !state.Key.PeriodStart.Before(end) {
			continue
		}
		if filter.DurableKey != "" && state.Key.DurableKey != filter.DurableKey {
			continue
		}
		if filter.SurrogateID != "" && state.Key.SurrogateID != filter.SurrogateID {
			continue
		}
		out = append(out, *cloneBucket(state))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		if a.DurableKey != b.DurableKey {
			return a.DurableKey < b.DurableKey
		}
		return a.SurrogateID < b.SurrogateID
	})
	return out, nil
}

func (s *Store) ReplaceRange(ctx context.Context, scope storage.RebuildScope, buckets []warehouse.BucketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, state := range s.buckets {
		if key.Grain != scope.Grain {
			continue
		}
		if key.PeriodStart.Before(scope.PeriodStart) || !key.PeriodStart.Before(scope.PeriodEnd) {
			continue
		}
		if scope.DurableKey != "" && state.Key.DurableKey != scope.DurableKey {
			continue
		}
		delete(s.buckets, key)
	}

	now := time.Now().UTC()
	for i := range buckets {
		state := cloneBucket(&buckets[i])
		state.Key.PeriodStart = state.Key.PeriodStart.UTC()
		state.UpdatedAt = now
		s.buckets[state.Key] = state
	}
	return nil
}

func (s *Store) ResetAggregates(ctx context.Context, processor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[warehouse.BucketKey]*warehouse.BucketState)
	delete(s.checkpoints, processor)
	return nil
}

// --- ErrorQueueStore ---

func (s *Store) Report(ctx context.Context, esc storage.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := escalationKey{Kind: esc.Kind, DurableKey: esc.DurableKey, Token: normalizeToken(esc.Token)}
	if _, exists := s.escalationKeys[key]; exists {
		return nil
	}

	if esc.ID == "" {
		esc.ID = uuidString()
	}
	if esc.Status == "" {
		esc.Status = storage.EscalationOpen
	}
	if esc.ReportedAt.IsZero() {
		esc.ReportedAt = time.Now().UTC()
	}
	esc.Token = normalizeToken(esc.Token)

	copy := esc
	s.escalations[esc.ID] = &copy
	s.escalationKeys[key] = esc.ID
	return nil
}

func (s *Store) List(ctx context.Context, status string, limit int) ([]storage.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Escalation
	for _, esc := range s.escalations {
		if status != "" && esc.Status != status {
			continue
		}
		out = append(out, *esc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ReportedAt.After(out[j].ReportedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Resolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escalations[id]
	if !ok {
		return storage.ErrNotFound
	}
	if esc.Status == storage.EscalationResolved {
		return nil
	}
	now := time.Now().UTC()
	esc.Status = storage.EscalationResolved
	esc.ResolvedAt = &now
	return nil
}

// --- ProcessRunStore ---

func (s *Store) StartRun(ctx context.Context, process string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &storage.RunRecord{
		ID:        uuidString(),
		Process:   process,
		StartedAt: time.Now().UTC(),
		Status:    storage.RunRunning,
	}
	s.runs = append(s.runs, run)
	return run.ID, nil
}

func (s *Store) CompleteRun(ctx context.Context, id, status string, counts storage.RunCounts, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			now := time.Now().UTC()
			run.CompletedAt = &now
			run.Status = status
			run.Counts = counts
			run.Detail = detail
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) ListRuns(ctx context.Context, process string, limit int) ([]storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.RunRecord
	for _, run := range s.runs {
		if process != "" && run.Process != process {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneBucket(s *warehouse.BucketState) *warehouse.BucketState {
	c := *s
	c.Measures = s.Measures.Clone()
	return &c
}
