package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	httperr "github.com/strata-dw/strata/internal/core/errors"
	"github.com/strata-dw/strata/internal/core/storage/memory"
	internalschema "github.com/strata-dw/strata/internal/schema"
	yamlformat "github.com/strata-dw/strata/internal/schema/formats/yaml"
	schemastorage "github.com/strata-dw/strata/internal/schema/storage"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	registry := internalschema.NewRegistry(schemastorage.NewMemoryRepository())
	validator := internalschema.NewValidator(internalschema.NewFormatRegistry())
	svc := NewService(registry, validator, store, 1)

	r := gin.New()
	svc.RegisterRoutes(r)
	return svc, store, r
}

func postRecord(t *testing.T, r *gin.Engine, rec *v1.ChangeRecord) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(rec)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/changes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func testRecord() *v1.ChangeRecord {
	return &v1.ChangeRecord{
		DurableKey: "customer:1001",
		Kind:       v1.KindDimensionChange,
		EventTime:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		SequenceNo: 1,
		Payload:    map[string]interface{}{"region": "CA"},
	}
}

func TestAppendHandler_Success(t *testing.T) {
	_, store, r := newTestService(t)

	resp := postRecord(t, r, testRecord())

	require.Equal(t, http.StatusAccepted, resp.Code)
	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "accepted", result["status"])

	recs, err := store.ReadAfterCursor(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "customer:1001", recs[0].DurableKey)
	require.False(t, recs[0].ReceivedAt.IsZero())
}

func TestAppendHandler_DuplicateToken(t *testing.T) {
	_, store, r := newTestService(t)

	require.Equal(t, http.StatusAccepted, postRecord(t, r, testRecord()).Code)

	resp := postRecord(t, r, testRecord())
	require.Equal(t, http.StatusOK, resp.Code)

	var result map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "duplicate", result["status"])

	// Ledger unchanged.
	recs, err := store.ReadAfterCursor(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestAppendHandler_InvalidJSON(t *testing.T) {
	_, _, r := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/changes", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
}

func TestAppendHandler_EnvelopeValidation(t *testing.T) {
	_, _, r := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*v1.ChangeRecord)
	}{
		{"missing durable_key", func(rec *v1.ChangeRecord) { rec.DurableKey = "" }},
		{"bad kind", func(rec *v1.ChangeRecord) { rec.Kind = "snapshot" }},
		{"zero event_time", func(rec *v1.ChangeRecord) { rec.EventTime = time.Time{} }},
		{"negative sequence_no", func(rec *v1.ChangeRecord) { rec.SequenceNo = -1 }},
		{"empty payload", func(rec *v1.ChangeRecord) { rec.Payload = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord()
			tt.mutate(rec)
			resp := postRecord(t, r, rec)

			require.Equal(t, http.StatusBadRequest, resp.Code)
			var errResp httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
			require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
		})
	}
}

func TestAppendHandler_SchemaValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memory.New()
	registry := internalschema.NewRegistry(schemastorage.NewMemoryRepository())
	validator := internalschema.InitializeValidator()
	validator.RegisterFormat(internalschema.FormatYaml, yamlformat.NewCompiler(), yamlformat.NewValidator())

	definition := []byte(`
schema: customer.profile
version: 1
strictMode: true
fields:
  region: string!
  tier: string
`)
	_, err := registry.Register(context.Background(), "customer.profile", 1, internalschema.FormatYaml, definition, true)
	require.NoError(t, err)

	svc := NewService(registry, validator, store, 1)
	r := gin.New()
	svc.RegisterRoutes(r)

	valid := testRecord()
	valid.Schema = "customer.profile"
	valid.SchemaVersion = 1
	require.Equal(t, http.StatusAccepted, postRecord(t, r, valid).Code)

	invalid := testRecord()
	invalid.SequenceNo = 2
	invalid.Schema = "customer.profile"
	invalid.SchemaVersion = 1
	invalid.Payload = map[string]interface{}{"tier": "gold"} // missing required region
	resp := postRecord(t, r, invalid)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpSchemaValidationError, errResp.ErrorType)
}

func TestAppendHandler_SchemaNotFound(t *testing.T) {
	_, _, r := newTestService(t)

	rec := testRecord()
	rec.Schema = "customer.profile"
	rec.SchemaVersion = 999
	resp := postRecord(t, r, rec)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpSchemaNotFoundError, errResp.ErrorType)
}

func TestAppendHandler_RequireSchema(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.SetRequireSchema(true)

	r := gin.New()
	svc.RegisterRoutes(r)

	resp := postRecord(t, r, testRecord()) // no schema declared

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpSchemaValidationError, errResp.ErrorType)
}

func TestAppendHandler_StorageError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := internalschema.NewRegistry(schemastorage.NewMemoryRepository())
	validator := internalschema.NewValidator(internalschema.NewFormatRegistry())
	svc := NewService(registry, validator, failingLedger{}, 1)

	r := gin.New()
	svc.RegisterRoutes(r)

	resp := postRecord(t, r, testRecord())
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInternalError, errResp.ErrorType)
}

func TestAppendHandler_BodySizeLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.maxBodySizeBytes = 10 // Very small limit

	r := gin.New()
	svc.RegisterRoutes(r)

	body, _ := json.Marshal(testRecord())
	req := httptest.NewRequest(http.MethodPost, "/v1/changes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
	require.Contains(t, errResp.Message, "maximum allowed size")
}

// failingLedger always fails Append, for exercising the 500 path.
type failingLedger struct{}

func (failingLedger) Append(ctx context.Context, rec *v1.ChangeRecord) error {
	return errors.New("database connection failed")
}

func (failingLedger) ReadAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.ChangeRecord, error) {
	return nil, errors.New("database connection failed")
}
