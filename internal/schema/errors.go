package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: no conformed schema is registered under the
	// requested name and version.
	ErrNotFound = errors.New("schema not found")

	// ErrAlreadyExists: a schema version is immutable once registered;
	// corrections go in as a new version.
	ErrAlreadyExists = errors.New("schema already exists")
)

// ValidationError is one payload field failing its conformed schema.
// The structured fields feed the ingest API's error details, so an
// operator can see which field of which schema version rejected the
// record.
type ValidationError struct {
	Schema        string   `json:"schema"`
	Version       int      `json:"version"`
	Format        string   `json:"format,omitempty"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	ExpectedType  string   `json:"expected_type,omitempty"`
	ActualType    string   `json:"actual_type,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.UnknownFields) > 0 {
		return fmt.Sprintf("unknown field(s) %v not allowed in schema %s v%d",
			e.UnknownFields, e.Schema, e.Version)
	}
	if e.Field != "" {
		return fmt.Sprintf("field '%s': %s (schema %s v%d)",
			e.Field, e.Message, e.Schema, e.Version)
	}
	return fmt.Sprintf("%s (schema %s v%d)", e.Message, e.Schema, e.Version)
}

// MultiValidationError collects every field failure from one payload so
// a rejected record reports all of its problems in a single response.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ValidationDetailer exposes structured detail fields for HTTP error
// bodies. Both validation error types implement it, so the ingest
// handler extracts details without asserting concrete types.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details returns the offending fields of a single failure.
func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	if len(e.UnknownFields) > 0 {
		d["unknown_fields"] = e.UnknownFields
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	return d
}

// Details aggregates the failed field names across child errors.
func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var fields []string
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
	}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// NewUnknownFieldsError reports payload fields the schema does not
// declare.
func NewUnknownFieldsError(schema string, version int, fields []string) *ValidationError {
	return &ValidationError{
		Schema:        schema,
		Version:       version,
		Message:       fmt.Sprintf("unknown field(s) not allowed: %v", fields),
		UnknownFields: fields,
	}
}

// NewTypeMismatchError reports a field whose JSON type disagrees with
// the schema's declared type.
func NewTypeMismatchError(schema string, version int, field, expected, actual string) *ValidationError {
	return &ValidationError{
		Schema:       schema,
		Version:      version,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		Field:        field,
		ExpectedType: expected,
		ActualType:   actual,
	}
}

// NewRequiredFieldError reports a declared required field missing from
// the payload.
func NewRequiredFieldError(schema string, version int, field string) *ValidationError {
	return &ValidationError{
		Schema:  schema,
		Version: version,
		Message: "required field is missing",
		Field:   field,
	}
}
