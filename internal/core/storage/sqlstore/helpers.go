package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/core/warehouse"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalJSONMap marshals a map column, rendering nil/empty as SQL NULL
// rather than the JSON string "null".
func marshalJSONMap(m interface{}) ([]byte, error) {
	switch v := m.(type) {
	case warehouse.Measures:
		if len(v) == 0 {
			return nil, nil
		}
	case warehouse.Attributes:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return raw, nil
}

func scanRecordRow(row scanner) (*v1.ChangeRecord, error) {
	var rec v1.ChangeRecord
	var schemaName sql.NullString
	var schemaVersion sql.NullInt64
	var payloadJSON []byte

	err := row.Scan(
		&rec.LedgerSeq,
		&rec.DurableKey,
		&rec.Kind,
		&rec.EventTime,
		&rec.SequenceNo,
		&schemaName,
		&schemaVersion,
		&rec.ReceivedAt,
		&payloadJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger row: %w", err)
	}

	rec.Schema = schemaName.String
	rec.SchemaVersion = int(schemaVersion.Int64)
	rec.EventTime = rec.EventTime.UTC()
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &rec, nil
}

func scanVersionRow(row scanner) (*warehouse.DimensionVersion, error) {
	var v warehouse.DimensionVersion
	var attrsJSON []byte

	err := row.Scan(
		&v.SurrogateID,
		&v.DurableKey,
		&attrsJSON,
		&v.ValidFrom,
		&v.ValidTo,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dimension version row: %w", err)
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &v.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	v.ValidFrom = v.ValidFrom.UTC()
	v.ValidTo = v.ValidTo.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func scanFactRow(row scanner) (*warehouse.Fact, error) {
	var f warehouse.Fact
	var measuresJSON, degenerateJSON []byte

	err := row.Scan(
		&f.DurableKey,
		&f.Token.EventTime,
		&f.Token.SequenceNo,
		&f.SurrogateID,
		&measuresJSON,
		&degenerateJSON,
		&f.BoundAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fact row: %w", err)
	}

	if len(measuresJSON) > 0 {
		if err := json.Unmarshal(measuresJSON, &f.Measures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measures: %w", err)
		}
	}
	if len(degenerateJSON) > 0 {
		if err := json.Unmarshal(degenerateJSON, &f.Degenerate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal degenerate context: %w", err)
		}
	}
	f.Token.EventTime = f.Token.EventTime.UTC()
	f.BoundAt = f.BoundAt.UTC()
	return &f, nil
}

func scanPendingRow(row scanner) (storage.PendingFact, error) {
	var pf storage.PendingFact
	var measuresJSON, degenerateJSON []byte

	err := row.Scan(
		&pf.DurableKey,
		&pf.Token.EventTime,
		&pf.Token.SequenceNo,
		&measuresJSON,
		&degenerateJSON,
		&pf.Attempts,
		&pf.FirstSeen,
		&pf.LastAttempt,
	)
	if err != nil {
		return storage.PendingFact{}, fmt.Errorf("failed to scan pending fact row: %w", err)
	}

	if len(measuresJSON) > 0 {
		if err := json.Unmarshal(measuresJSON, &pf.Measures); err != nil {
			return storage.PendingFact{}, fmt.Errorf("failed to unmarshal measures: %w", err)
		}
	}
	if len(degenerateJSON) > 0 {
		if err := json.Unmarshal(degenerateJSON, &pf.Degenerate); err != nil {
			return storage.PendingFact{}, fmt.Errorf("failed to unmarshal degenerate context: %w", err)
		}
	}
	pf.Token.EventTime = pf.Token.EventTime.UTC()
	pf.FirstSeen = pf.FirstSeen.UTC()
	pf.LastAttempt = pf.LastAttempt.UTC()
	return pf, nil
}

func scanBucketRow(row scanner) (*warehouse.BucketState, error) {
	var s warehouse.BucketState
	var grain string
	var measuresJSON []byte
	var hwmTime sql.NullTime
	var hwmSeq sql.NullInt64

	err := row.Scan(
		&grain,
		&s.Key.PeriodStart,
		&s.Key.SurrogateID,
		&s.Key.DurableKey,
		&measuresJSON,
		&s.FactCount,
		&hwmTime,
		&hwmSeq,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan bucket row: %w", err)
	}

	s.Key.Grain = warehouse.Grain(grain)
	s.Key.PeriodStart = s.Key.PeriodStart.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if len(measuresJSON) > 0 {
		if err := json.Unmarshal(measuresJSON, &s.Measures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measures: %w", err)
		}
	}
	if s.Measures == nil {
		s.Measures = make(warehouse.Measures)
	}
	if hwmTime.Valid {
		s.HighWaterMark = warehouse.VersionToken{
			EventTime:  hwmTime.Time.UTC(),
			SequenceNo: hwmSeq.Int64,
		}
	}
	return &s, nil
}

// tokenColumns renders a version token as its two column values, using
// NULL for the zero token so "no watermark yet" is distinguishable from
// a real timestamp.
func tokenColumns(t warehouse.VersionToken) (interface{}, interface{}) {
	if t.IsZero() {
		return nil, nil
	}
	return t.EventTime.UTC(), t.SequenceNo
}
