package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
	"github.com/strata-dw/strata/internal/dimension"
	"github.com/shopspring/decimal"
)

const (
	defaultFactPageSize = 100
	maxFactPageSize     = 1000
	defaultListLimit    = 50
	maxListLimit        = 500
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid query")

// Service implements the warehouse read layer: point-in-time dimension
// lookups, keyset-paged fact scans, bucket reads with empty-period fill,
// the operator error queue and the process run log.
type Service struct {
	stores   *storage.Stores
	resolver *dimension.Resolver
}

// NewService creates a new projection service.
func NewService(stores *storage.Stores, resolver *dimension.Resolver) *Service {
	if stores == nil {
		panic("projection: stores must not be nil")
	}
	if resolver == nil {
		panic("projection: resolver must not be nil")
	}
	return &Service{stores: stores, resolver: resolver}
}

// DimensionAsOf returns the version of a key that was in effect at the
// given instant. This is the as-was lookup: the answer depends only on
// recorded history, never on the current version.
func (s *Service) DimensionAsOf(ctx context.Context, durableKey string, at time.Time) (*DimensionVersionResponse, error) {
	version, err := s.resolver.Resolve(ctx, durableKey, at)
	if err != nil {
		return nil, err
	}
	resp := toVersionResponse(*version)
	return &resp, nil
}

// DimensionCurrent returns the open-ended version of a key, the as-is
// view.
func (s *Service) DimensionCurrent(ctx context.Context, durableKey string) (*DimensionVersionResponse, error) {
	version, err := s.resolver.ResolveCurrent(ctx, durableKey)
	if err != nil {
		return nil, err
	}
	resp := toVersionResponse(*version)
	return &resp, nil
}

// DimensionHistory returns a key's full interval set ordered by
// valid_from.
func (s *Service) DimensionHistory(ctx context.Context, durableKey string) (*DimensionHistoryResponse, error) {
	versions, err := s.resolver.History(ctx, durableKey)
	if err != nil {
		return nil, err
	}
	resp := &DimensionHistoryResponse{
		DurableKey: durableKey,
		Versions:   make([]DimensionVersionResponse, 0, len(versions)),
	}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, toVersionResponse(v))
	}
	return resp, nil
}

// QueryFacts pages through facts with event_time in [start, end) in
// version-token order. The cursor is opaque; an empty cursor starts the
// scan and the returned cursor resumes it.
func (s *Service) QueryFacts(ctx context.Context, req FactQueryRequest) (*FactQueryResponse, error) {
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidQuery)
	}
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidQuery)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultFactPageSize
	}
	if limit > maxFactPageSize {
		limit = maxFactPageSize
	}
	cursor, err := warehouse.ParseFactCursor(req.Cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	filter := storage.FactFilter{DurableKey: req.DurableKey, SurrogateID: req.SurrogateID}
	page, err := s.stores.Facts.FactsInRange(ctx, req.Start.UTC(), req.End.UTC(), filter, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}

	resp := &FactQueryResponse{
		Start:   req.Start.UTC(),
		End:     req.End.UTC(),
		Facts:   make([]FactResponse, 0, len(page.Facts)),
		HasMore: page.HasMore,
	}
	for _, f := range page.Facts {
		resp.Facts = append(resp.Facts, toFactResponse(f))
	}
	if page.HasMore {
		resp.NextCursor = page.Next.Encode()
	}
	return resp, nil
}

// BucketAt returns the aggregate state of one period, optionally
// narrowed to a durable key or surrogate. An absent bucket renders
// zero-valued: "no facts in this period" is an answer, not an error.
func (s *Service) BucketAt(ctx context.Context, grainName string, period time.Time, durableKey, surrogateID string) (*BucketResponse, error) {
	grain, err := warehouse.ParseGrain(grainName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if period.IsZero() {
		return nil, fmt.Errorf("%w: period is required", ErrInvalidQuery)
	}

	start := grain.PeriodStart(period)
	end := grain.PeriodEnd(start)
	filter := storage.FactFilter{DurableKey: durableKey, SurrogateID: surrogateID}
	states, err := s.stores.Buckets.QueryRange(ctx, grain, start, end, filter)
	if err != nil {
		return nil, fmt.Errorf("read bucket: %w", err)
	}

	resp := mergePeriod(grain, start, states)
	resp.DurableKey = durableKey
	resp.SurrogateID = surrogateID
	return &resp, nil
}

// BucketSeries returns one bucket per period covering [start, end),
// zero-valued entries included, so callers always see a contiguous
// timeline.
func (s *Service) BucketSeries(ctx context.Context, grainName string, start, end time.Time, durableKey, surrogateID string) (*BucketSeriesResponse, error) {
	grain, err := warehouse.ParseGrain(grainName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidQuery)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidQuery)
	}

	rangeStart := grain.PeriodStart(start)
	filter := storage.FactFilter{DurableKey: durableKey, SurrogateID: surrogateID}
	states, err := s.stores.Buckets.QueryRange(ctx, grain, rangeStart, end.UTC(), filter)
	if err != nil {
		return nil, fmt.Errorf("read bucket series: %w", err)
	}

	return &BucketSeriesResponse{
		Grain:   string(grain),
		Start:   rangeStart,
		End:     end.UTC(),
		Buckets: fillSeries(grain, rangeStart, end.UTC(), states),
	}, nil
}

// ListEscalations returns error-queue entries newest first.
func (s *Service) ListEscalations(ctx context.Context, status string, limit int) ([]EscalationResponse, error) {
	switch status {
	case "", storage.EscalationOpen, storage.EscalationResolved:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, status)
	}
	limit = clampLimit(limit)

	escalations, err := s.stores.Errors.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	out := make([]EscalationResponse, 0, len(escalations))
	for _, esc := range escalations {
		out = append(out, EscalationResponse{
			ID:         esc.ID,
			Kind:       esc.Kind,
			DurableKey: esc.DurableKey,
			EventTime:  esc.Token.EventTime,
			SequenceNo: esc.Token.SequenceNo,
			Detail:     esc.Detail,
			Status:     esc.Status,
			ReportedAt: esc.ReportedAt,
			ResolvedAt: esc.ResolvedAt,
		})
	}
	return out, nil
}

// ResolveEscalation marks one error-queue entry resolved.
// Returns storage.ErrNotFound for an unknown id.
func (s *Service) ResolveEscalation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidQuery)
	}
	return s.stores.Errors.Resolve(ctx, id)
}

// ListRuns returns process runs newest first, optionally filtered by
// process name.
func (s *Service) ListRuns(ctx context.Context, process string, limit int) ([]RunResponse, error) {
	limit = clampLimit(limit)

	runs, err := s.stores.Runs.ListRuns(ctx, process, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunResponse{
			ID:             run.ID,
			Process:        run.Process,
			StartedAt:      run.StartedAt,
			CompletedAt:    run.CompletedAt,
			Status:         run.Status,
			RecordsRead:    run.Counts.RecordsRead,
			ChangesApplied: run.Counts.ChangesApplied,
			FactsBound:     run.Counts.FactsBound,
			BucketsUpdated: run.Counts.BucketsUpdated,
			Detail:         run.Detail,
		})
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toVersionResponse(v warehouse.DimensionVersion) DimensionVersionResponse {
	return DimensionVersionResponse{
		SurrogateID: v.SurrogateID,
		DurableKey:  v.DurableKey,
		Attributes:  v.Attributes,
		ValidFrom:   v.ValidFrom,
		ValidTo:     v.ValidTo,
		IsCurrent:   v.IsCurrent(),
		CreatedAt:   v.CreatedAt,
	}
}

func toFactResponse(f *warehouse.Fact) FactResponse {
	measures := make(map[string]decimal.Decimal, len(f.Measures))
	for name, value := range f.Measures {
		measures[name] = value
	}
	return FactResponse{
		DurableKey:  f.DurableKey,
		EventTime:   f.Token.EventTime,
		SequenceNo:  f.Token.SequenceNo,
		SurrogateID: f.SurrogateID,
		Measures:    measures,
		Degenerate:  f.Degenerate,
		BoundAt:     f.BoundAt,
	}
}
