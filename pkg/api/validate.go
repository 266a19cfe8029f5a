package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Validation bounds for request fields.
const (
	minTextLen  = 5
	maxTextLen  = 1000
	minLabelLen = 1
	maxLabelLen = 50
)

// Default labels for ingested documents with no domain/topic.
const (
	defaultDomain = "general"
	defaultTopic  = "unknown"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// IngestRequest is the body of the URL ingest endpoints.
type IngestRequest struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Topic  string `json:"topic"`
}

// Validate normalizes labels and returns field errors. Absent labels
// fall back to the catch-all defaults so every stored chunk is
// filterable.
func (r *IngestRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.URL) == "" {
		errs = append(errs, FieldError{Field: "url", Message: "url is required"})
	}
	errs = append(errs, validateLabel("domain", &r.Domain)...)
	errs = append(errs, validateLabel("topic", &r.Topic)...)
	if r.Domain == "" {
		r.Domain = defaultDomain
	}
	if r.Topic == "" {
		r.Topic = defaultTopic
	}
	return errs
}

// QueryRequest is the body of retrieve/ask/ask-stream.
type QueryRequest struct {
	Text   string `json:"text"`
	Domain string `json:"domain"`
	Topic  string `json:"topic"`
}

// Validate normalizes labels and returns field errors.
func (r *QueryRequest) Validate() []FieldError {
	var errs []FieldError
	if n := len(r.Text); n < minTextLen || n > maxTextLen {
		errs = append(errs, FieldError{
			Field:   "text",
			Message: fmt.Sprintf("text must be between %d and %d characters, got %d", minTextLen, maxTextLen, n),
		})
	}
	errs = append(errs, validateLabel("domain", &r.Domain)...)
	errs = append(errs, validateLabel("topic", &r.Topic)...)
	return errs
}

// validateLabel trims and lowercases an optional domain/topic label in
// place and checks its length.
func validateLabel(field string, value *string) []FieldError {
	*value = strings.ToLower(strings.TrimSpace(*value))
	if *value == "" {
		return nil
	}
	if n := len(*value); n < minLabelLen || n > maxLabelLen {
		return []FieldError{{
			Field:   field,
			Message: fmt.Sprintf("%s must be between %d and %d characters, got %d", field, minLabelLen, maxLabelLen, n),
		}}
	}
	return nil
}

// decodeJSON parses the request body, reporting malformed JSON as a
// single-field validation error.
func decodeJSON(r *http.Request, v interface{}) []FieldError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return []FieldError{{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return nil
}

// writeValidationErrors emits the 422 field-level detail body.
func writeValidationErrors(w http.ResponseWriter, errs []FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]FieldError{"detail": errs})
}
