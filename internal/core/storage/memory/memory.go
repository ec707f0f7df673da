package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

// Store is an in-memory implementation of every warehouse store.
// Useful for tests and single-process development mode; state lives for
// the lifetime of the process. One mutex guards everything, which also
// makes ApplyBatch and ApplyRevision naturally transactional.
type Store struct {
	mu sync.RWMutex

	records []*v1.ChangeRecord
	tokens  map[string]map[warehouse.VersionToken]bool

	versions map[string][]warehouse.DimensionVersion

	facts map[string]map[warehouse.VersionToken]*warehouse.Fact

	pending map[string]map[warehouse.VersionToken]storage.PendingFact

	buckets     map[warehouse.BucketKey]*warehouse.BucketState
	checkpoints map[string]storage.Checkpoint

	escalations    map[string]*storage.Escalation
	escalationKeys map[escalationKey]string

	runs []*storage.RunRecord
}

type escalationKey struct {
	Kind       string
	DurableKey string
	Token      warehouse.VersionToken
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tokens:         make(map[string]map[warehouse.VersionToken]bool),
		versions:       make(map[string][]warehouse.DimensionVersion),
		facts:          make(map[string]map[warehouse.VersionToken]*warehouse.Fact),
		pending:        make(map[string]map[warehouse.VersionToken]storage.PendingFact),
		buckets:        make(map[warehouse.BucketKey]*warehouse.BucketState),
		checkpoints:    make(map[string]storage.Checkpoint),
		escalations:    make(map[string]*storage.Escalation),
		escalationKeys: make(map[escalationKey]string),
	}
}

// Stores bundles the single Store behind every interface.
func (s *Store) Stores() *storage.Stores {
	return &storage.Stores{
		Ledger:     s,
		Dimensions: s,
		Facts:      s,
		Pending:    s,
		Buckets:    s,
		Errors:     s,
		Runs:       s,
	}
}

var (
	_ storage.LedgerStore     = (*Store)(nil)
	_ storage.DimensionStore  = (*Store)(nil)
	_ storage.FactStore       = (*Store)(nil)
	_ storage.PendingStore    = (*Store)(nil)
	_ storage.BucketStore     = (*Store)(nil)
	_ storage.ErrorQueueStore = (*Store)(nil)
	_ storage.ProcessRunStore = (*Store)(nil)
)

// --- LedgerStore ---

func (s *Store) Append(ctx context.Context, rec *v1.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := warehouse.VersionToken{EventTime: rec.EventTime, SequenceNo: rec.SequenceNo}
	keyTokens, ok := s.tokens[rec.DurableKey]
	if !ok {
		keyTokens = make(map[warehouse.VersionToken]bool)
		s.tokens[rec.DurableKey] = keyTokens
	}
	if keyTokens[normalizeToken(token)] {
		return storage.ErrDuplicate
	}
	keyTokens[normalizeToken(token)] = true

	copy := *rec
	copy.LedgerSeq = int64(len(s.records) + 1)
	if copy.ReceivedAt.IsZero() {
		copy.ReceivedAt = time.Now().UTC()
	}
	s.records = append(s.records, &copy)
	rec.LedgerSeq = copy.LedgerSeq
	return nil
}

func (s *Store) ReadAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor >= int64(len(s.records)) {
		return nil, nil
	}
	end := cursor + int64(limit)
	if limit <= 0 || end > int64(len(s.records)) {
		end = int64(len(s.records))
	}
	out := make([]*v1.ChangeRecord, 0, end-cursor)
	for _, rec := range s.records[cursor:end] {
		copy := *rec
		out = append(out, &copy)
	}
	return out, nil
}

// --- DimensionStore ---

func (s *Store) VersionsForKey(ctx context.Context, durableKey string) ([]warehouse.DimensionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.versions[durableKey]
	out := make([]warehouse.DimensionVersion, len(src))
	for i, v := range src {
		out[i] = cloneVersion(v)
	}
	return out, nil
}

func (s *Store) CurrentVersion(ctx context.Context, durableKey string) (*warehouse.DimensionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.versions[durableKey]
	for i := len(src) - 1; i >= 0; i-- {
		if src[i].IsCurrent() {
			v := cloneVersion(src[i])
			return &v, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ApplyRevision(ctx context.Context, rev warehouse.DimensionRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[rev.DurableKey]

	// Validate the whole revision before touching anything, so a failed
	// pair leaves the interval set exactly as it was.
	if rev.Insert != nil {
		for _, v := range versions {
			if v.ValidFrom.Equal(rev.Insert.ValidFrom) {
				return storage.ErrDuplicate
			}
		}
	}
	if rev.Truncate != nil {
		found := false
		for i := range versions {
			if versions[i].SurrogateID == rev.Truncate.SurrogateID {
				found = true
				break
			}
		}
		if !found {
			return storage.ErrNotFound
		}
	}

	if rev.Truncate != nil {
		for i := range versions {
			if versions[i].SurrogateID == rev.Truncate.SurrogateID {
				versions[i].ValidTo = rev.Truncate.ValidTo.UTC()
				break
			}
		}
	}

	if rev.Insert != nil {
		nv := cloneVersion(*rev.Insert)
		nv.DurableKey = rev.DurableKey
		versions = append(versions, nv)
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].ValidFrom.Before(versions[j].ValidFrom)
		})
	}

	s.versions[rev.DurableKey] = versions
	return nil
}

// --- FactStore ---

func (s *Store) Insert(ctx context.Context, fact *warehouse.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyFacts, ok := s.facts[fact.DurableKey]
	if !ok {
		keyFacts = make(map[warehouse.VersionToken]*warehouse.Fact)
		s.facts[fact.DurableKey] = keyFacts
	}
	token := normalizeToken(fact.Token)
	if _, exists := keyFacts[token]; exists {
		return storage.ErrDuplicate
	}
	f := cloneFact(fact)
	if f.BoundAt.IsZero() {
		f.BoundAt = time.Now().UTC()
	}
	keyFacts[token] = f
	return nil
}

func (s *Store) FactsInRange(ctx context.Context, start, end time.Time, filter storage.FactFilter, cursor warehouse.FactCursor, limit int) (*storage.FactPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*warehouse.Fact
	for _, keyFacts := range s.facts {
		for _, f := range keyFacts {
			if f.Token.EventTime.Before(start) || !f.Token.EventTime.Before(end) {
				continue
			}
			if filter.DurableKey != "" && f.DurableKey != filter.DurableKey {
				continue
			}
			if filter.SurrogateID != "" && f.SurrogateID != filter.SurrogateID {
				continue
			}
			all = append(all, f)
		}
	}
	sortFacts(all)

	if limit <= 0 {
		limit = len(all)
	}
	page := &storage.FactPage{}
	for _, f := range all {
		if !cursor.IsZero() && !afterCursor(f, cursor) {
			continue
		}
		if len(page.Facts) == limit {
			page.HasMore = true
			break
		}
		page.Facts = append(page.Facts, cloneFact(f))
	}
	if n := len(page.Facts); n > 0 {
		last := page.Facts[n-1]
		page.Next = warehouse.FactCursor{
			EventTime:  last.Token.EventTime,
			SequenceNo: last.Token.SequenceNo,
			DurableKey: last.DurableKey,
		}
	} else {
		page.Next = cursor
	}
	return page, nil
}

func (s *Store) BoundToSince(ctx context.Context, surrogateID string, since time.Time) ([]*warehouse.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*warehouse.Fact
	for _, keyFacts := range s.facts {
		for _, f := range keyFacts {
			if f.SurrogateID != surrogateID || f.Token.EventTime.Before(since) {
				continue
			}
			out = append(out, cloneFact(f))
		}
	}
	sortFacts(out)
	return out, nil
}

// --- PendingStore ---

func (s *Store) Park(ctx context.Context, pf storage.PendingFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parkLocked(pf, time.Now().UTC())
	return nil
}

// parkLocked upserts a pending fact. The first sighting's timestamp is
// preserved across re-parks so the escalation detail reports how long
// the fact has been stuck.
func (s *Store) parkLocked(pf storage.PendingFact, now time.Time) {
	keyPending, ok := s.pending[pf.DurableKey]
	if !ok {
		keyPending = make(map[warehouse.VersionToken]storage.PendingFact)
		s.pending[pf.DurableKey] = keyPending
	}
	pf.Token = normalizeToken(pf.Token)
	pf.Measures = pf.Measures.Clone()
	if pf.FirstSeen.IsZero() {
		pf.FirstSeen = now
	}
	if pf.LastAttempt.IsZero() {
		pf.LastAttempt = now
	}
	if existing, exists := keyPending[pf.Token]; exists {
		pf.FirstSeen = existing.FirstSeen
	}
	keyPending[pf.Token] = pf
}

func (s *Store) ListForKey(ctx context.Context, durableKey string) ([]storage.PendingFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyPending := s.pending[durableKey]
	out := make([]storage.PendingFact, 0, len(keyPending))
	for _, pf := range keyPending {
		pf.Measures = pf.Measures.Clone()
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Before(out[j].Token) })
	return out, nil
}

func (s *Store) Remove(ctx context.Context, durableKey string, token warehouse.VersionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keyPending, ok := s.pending[durableKey]; ok {
		delete(keyPending, normalizeToken(token))
		if len(keyPending) == 0 {
			delete(s.pending, durableKey)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, keyPending := range s.pending {
		n += int64(len(keyPending))
	}
	return n, nil
}

// --- helpers ---

// normalizeToken forces UTC so tokens compare and hash consistently
// regardless of the zone the caller parsed them in.
func normalizeToken(t warehouse.VersionToken) warehouse.VersionToken {
	t.EventTime = t.EventTime.UTC()
	return t
}

func cloneVersion(v warehouse.DimensionVersion) warehouse.DimensionVersion {
	v.Attributes = v.Attributes.Clone()
	return v
}

func cloneFact(f *warehouse.Fact) *warehouse.Fact {
	c := *f
	c.Token = normalizeToken(c.Token)
	c.Measures = f.Measures.Clone()
	if f.Degenerate != nil {
		c.Degenerate = make(map[string]string, len(f.Degenerate))
		for k, v := range f.Degenerate {
			c.Degenerate[k] = v
		}
	}
	return &c
}

func sortFacts(facts []*warehouse.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if cmp := facts[i].Token.Compare(facts[j].Token); cmp != 0 {
			return cmp < 0
		}
		return facts[i].DurableKey < facts[j].DurableKey
	})
}

func afterCursor(f *warehouse.Fact, c warehouse.FactCursor) bool {
	cursorToken := warehouse.VersionToken{EventTime: c.EventTime, SequenceNo: c.SequenceNo}
	if cmp := f.Token.Compare(cursorToken); cmp != 0 {
		return cmp > 0
	}
	return f.DurableKey > c.DurableKey
}

func uuidString() string {
	return uuid.NewString()
}
