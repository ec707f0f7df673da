package projection

import (
	"time"

	"github.com/shopspring/decimal"
)

// DimensionVersionResponse is one versioned dimension row as returned by
// the dimension read endpoints.
type DimensionVersionResponse struct {
	SurrogateID string                 `json:"surrogate_id"`
	DurableKey  string                 `json:"durable_key"`
	Attributes  map[string]interface{} `json:"attributes"`
	ValidFrom   time.Time              `json:"valid_from"`
	ValidTo     time.Time              `json:"valid_to"`
	IsCurrent   bool                   `json:"is_current"`
	CreatedAt   time.Time              `json:"created_at"`
}

// DimensionHistoryResponse is the full ordered interval set of one
// durable key.
type DimensionHistoryResponse struct {
	DurableKey string                     `json:"durable_key"`
	Versions   []DimensionVersionResponse `json:"versions"`
}

// FactResponse is one bound fact.
type FactResponse struct {
	DurableKey  string                     `json:"durable_key"`
	EventTime   time.Time                  `json:"event_time"`
	SequenceNo  int64                      `json:"sequence_no"`
	SurrogateID string                     `json:"surrogate_id"`
	Measures    map[string]decimal.Decimal `json:"measures"`
	Degenerate  map[string]string          `json:"degenerate,omitempty"`
	BoundAt     time.Time                  `json:"bound_at"`
}

// FactQueryRequest represents the parameters of a fact range read.
type FactQueryRequest struct {
	Start       time.Time
	End         time.Time
	DurableKey  string
	SurrogateID string
	Cursor      string
	Limit       int
}

// FactQueryResponse is one page of a fact range read. NextCursor resumes
// the scan; an empty cursor means the range is exhausted.
type FactQueryResponse struct {
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Facts      []FactResponse `json:"facts"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// BucketResponse is one aggregate bucket rendered for the API. Absent
// buckets render zero-valued with an empty measure map.
type BucketResponse struct {
	Grain         string                     `json:"grain"`
	PeriodStart   time.Time                  `json:"period_start"`
	PeriodEnd     time.Time                  `json:"period_end"`
	DurableKey    string                     `json:"durable_key,omitempty"`
	SurrogateID   string                     `json:"surrogate_id,omitempty"`
	Measures      map[string]decimal.Decimal `json:"measures"`
	FactCount     int64                      `json:"fact_count"`
	HighWaterMark *time.Time                 `json:"high_water_mark,omitempty"`
}

// BucketSeriesResponse is a contiguous period series, including
// zero-valued entries for periods with no bound facts.
type BucketSeriesResponse struct {
	Grain   string           `json:"grain"`
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Buckets []BucketResponse `json:"buckets"`
}

// EscalationResponse is one operator error-queue entry.
type EscalationResponse struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	DurableKey string     `json:"durable_key"`
	EventTime  time.Time  `json:"event_time"`
	SequenceNo int64      `json:"sequence_no"`
	Detail     string     `json:"detail"`
	Status     string     `json:"status"`
	ReportedAt time.Time  `json:"reported_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RunResponse is one row of the process execution log.
type RunResponse struct {
	ID             string     `json:"id"`
	Process        string     `json:"process"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Status         string     `json:"status"`
	RecordsRead    int64      `json:"records_read"`
	ChangesApplied int64      `json:"changes_applied"`
	FactsBound     int64      `json:"facts_bound"`
	BucketsUpdated int64      `json:"buckets_updated"`
	Detail         string     `json:"detail,omitempty"`
}
