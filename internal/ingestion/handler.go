package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/strata-dw/strata/internal/api/v1"
	httperr "github.com/strata-dw/strata/internal/core/errors"
	"github.com/strata-dw/strata/internal/core/storage"
	"github.com/strata-dw/strata/internal/metrics"
	"github.com/strata-dw/strata/internal/schema"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgAppendFailed   = "Failed to append record"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// AppendHandler handles HTTP POST requests for ledger appends.
func (s *Service) AppendHandler(c *gin.Context) {
	rec, payloadSize, err := s.parseRecord(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateRecord(c.Request.Context(), rec); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received change record",
		"durable_key", rec.DurableKey,
		"kind", rec.Kind,
		"event_time", rec.EventTime,
		"sequence_no", rec.SequenceNo,
		"payload_size", payloadSize)

	if appendErr := s.ledger.Append(c.Request.Context(), rec); appendErr != nil {
		if errors.Is(appendErr, storage.ErrDuplicate) {
			// Replay of an already-recorded version token. The ledger is
			// unchanged, so report success without re-accepting.
			slog.Info("Duplicate record ignored",
				"durable_key", rec.DurableKey,
				"event_time", rec.EventTime,
				"sequence_no", rec.SequenceNo)
			metrics.DuplicateRecords.Inc()
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}

		slog.Error("Failed to append record", "error", appendErr, "durable_key", rec.DurableKey)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgAppendFailed,
		})
		return
	}

	metrics.RecordsIngested.WithLabelValues(rec.Kind).Inc()

	// Record is on the ledger. The pipeline applies it on its next cycle.
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// parseRecord reads the raw request body and binds it into a ChangeRecord.
// Returns the parsed record and the raw payload size (used for structured logging upstream).
func (s *Service) parseRecord(c *gin.Context) (*v1.ChangeRecord, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	// Check if body exceeds maximum size
	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var rec v1.ChangeRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	// set ReceivedAt to be the time we accept the request
	rec.ReceivedAt = time.Now().UTC()
	return &rec, len(bodyBytes), nil
}

// validateRecord runs envelope validation, then conformed-schema validation
// if the record declares a schema. Returns nil on success.
func (s *Service) validateRecord(ctx context.Context, rec *v1.ChangeRecord) *ingestionError {
	if err := rec.Validate(); err != nil {
		slog.Warn("Envelope validation failed", "error", err, "durable_key", rec.DurableKey)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    err.Error(),
		}
	}

	if rec.Schema == "" || rec.SchemaVersion == 0 {
		if s.requireSchema {
			slog.Warn("Record without schema rejected", "durable_key", rec.DurableKey)
			return &ingestionError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpSchemaValidationError,
				message:    "schema and schema_version are required",
			}
		}
		return nil
	}

	sch, err := s.registry.Get(ctx, rec.Schema, rec.SchemaVersion)
	if err != nil {
		slog.Warn("Schema not found for record", "schema", rec.Schema, "schema_version", rec.SchemaVersion, "error", err)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpSchemaNotFoundError,
			message:    err.Error(),
		}
	}

	if sch.State == schema.StateDeprecated {
		slog.Warn("Using deprecated schema", "schema", rec.Schema, "schema_version", rec.SchemaVersion)
	}

	if err := s.validator.ValidateData(ctx, sch, rec.Payload); err != nil {
		slog.Warn("Schema validation failed for payload",
			"durable_key", rec.DurableKey, "schema", rec.Schema, "schema_version", rec.SchemaVersion, "error", err)

		details := map[string]interface{}{
			"schema":  rec.Schema,
			"version": rec.SchemaVersion,
		}
		if d, ok := err.(schema.ValidationDetailer); ok {
			for k, v := range d.Details() {
				details[k] = v
			}
		}

		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpSchemaValidationError,
			message:    err.Error(),
			details:    details,
		}
	}

	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
