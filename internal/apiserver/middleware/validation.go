// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	chi "github.com/go-chi/chi/v5"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
)

// ValidationError represents a validation error response
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// NameParamValidator creates a middleware that validates name URL parameters
func NameParamValidator(paramName string) func(http.Handler) http.Handler {
	// Valid name pattern: alphanumeric, hyphens, underscores, dots; 1-100 characters
	validPattern := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,99}$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := chi.URLParam(r, paramName)

			if value == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !validPattern.MatchString(value) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or is too long", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DeployRequestValidator creates a middleware that validates deployment
// request bodies before they reach the handler
func DeployRequestValidator() func(http.Handler) http.Handler {
	// Must start with an alphanumeric character, 2-100 characters
	validFieldPattern := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{1,99}$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isModifyingRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := parseAndRestoreBody(r)
			if err != nil {
				writeValidationError(w, err.Error(), "body")
				return
			}

			for _, field := range []string{"template_name", "resource_group", "project", "environment"} {
				if err := validateNameField(body, field, validFieldPattern); err != nil {
					writeValidationError(w, err.Error(), field)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isModifyingRequest checks if the request method modifies data
func isModifyingRequest(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodPut
}

// parseAndRestoreBody reads, parses, and restores the request body with size limit
func parseAndRestoreBody(r *http.Request) (map[string]interface{}, error) {
	limitedReader := io.LimitReader(r.Body, MaxRequestBodySize)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}

	// Check if we hit the limit by trying to read one more byte
	if n, _ := io.Copy(io.Discard, r.Body); n > 0 {
		return nil, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
	}

	_ = r.Body.Close()

	var body map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON in request body")
	}

	// Restore the body for the next handler
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	return body, nil
}

// validateNameField checks a name-like field when it is present
func validateNameField(body map[string]interface{}, field string, pattern *regexp.Regexp) error {
	value, ok := body[field].(string)
	if !ok || value == "" {
		return nil // Absent or empty fields are the handler's problem
	}

	if !pattern.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters or format", field)
	}

	return nil
}

// ContentTypeValidator ensures requests have proper content type
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only validate on requests with body
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") != "" {
					contentType := r.Header.Get("Content-Type")
					if contentType != "application/json" {
						writeValidationError(w, "Content-Type must be application/json", "header")
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeValidationError writes a validation error response
func writeValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := ValidationError{
		Error:   "validation_error",
		Message: message,
		Field:   field,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Best effort - the client still gets the status code
		_ = err
	}
}
