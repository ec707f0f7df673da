package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidQueryError     = "invalid_query"
	HttpSchemaNotFoundError   = "schema_not_found"
	HttpSchemaValidationError = "schema_validation_failed"
	HttpDuplicateRecordError  = "duplicate_record"
	HttpUnknownEntityError    = "unknown_entity"
	HttpNoDimensionVersion    = "no_dimension_version"
	HttpEscalationNotFound    = "escalation_not_found"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
