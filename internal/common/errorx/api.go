package errorx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryConflict       ErrorCategory = "conflict"
	CategoryInternal       ErrorCategory = "internal"
	CategoryExternal       ErrorCategory = "external"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryRateLimit      ErrorCategory = "rate_limit"
)

// APIError is the caller-facing rendition of an error
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"category"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// JSON returns the error as a JSON string
func (e *APIError) JSON() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// WithDetail returns a copy of the error carrying one more detail
func (e *APIError) WithDetail(key string, value any) *APIError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

var apiErrors = map[Kind]APIError{
	KindValidation:           {Code: "E1001", Message: "Invalid input provided", Category: CategoryValidation, HTTPStatus: http.StatusBadRequest},
	KindUpstreamConflict:     {Code: "E1004", Message: "The partner rejected the update as conflicting", Category: CategoryConflict, HTTPStatus: http.StatusUnprocessableEntity},
	KindNotFound:             {Code: "E3001", Message: "Resource not found", Category: CategoryNotFound, HTTPStatus: http.StatusNotFound},
	KindRateLimitExceeded:    {Code: "E4001", Message: "Partner API budget exhausted, retry later", Category: CategoryRateLimit, HTTPStatus: http.StatusTooManyRequests},
	KindUpstreamRateLimited:  {Code: "E4002", Message: "Partner API rate limit reached, retry later", Category: CategoryRateLimit, HTTPStatus: http.StatusTooManyRequests},
	KindCredentialRefresh:    {Code: "E5101", Message: "Partner credentials could not be refreshed", Category: CategoryAuthentication, HTTPStatus: http.StatusBadGateway},
	KindUpstreamUnauthorized: {Code: "E5102", Message: "Partner rejected the tenant credentials", Category: CategoryAuthentication, HTTPStatus: http.StatusBadGateway},
	KindUpstreamUnavailable:  {Code: "E5201", Message: "Partner API unavailable", Category: CategoryExternal, HTTPStatus: http.StatusBadGateway},
	KindUpstreamTimeout:      {Code: "E5202", Message: "Partner API timed out", Category: CategoryTimeout, HTTPStatus: http.StatusGatewayTimeout},
	KindConfiguration:        {Code: "E5301", Message: "Service misconfigured", Category: CategoryConfiguration, HTTPStatus: http.StatusInternalServerError},
}

// ToAPIError converts any error into its caller-facing form
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if tmpl, ok := apiErrors[KindOf(err)]; ok {
		out := tmpl
		if e := (*Error)(nil); errors.As(err, &e) && e.Tenant != "" {
			return out.WithDetail("tenant", e.Tenant)
		}
		return &out
	}
	return &APIError{
		Code:       "E5001",
		Message:    "Internal server error occurred",
		Category:   CategoryInternal,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// ValidationError creates a validation error for one field
func ValidationError(field string, value any, reason string) *APIError {
	out := apiErrors[KindValidation]
	return out.WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}
