package errorx

import (
	"errors"
	"fmt"
)

// Kind discriminates failures of the core operations
type Kind int

const (
	KindUnknown Kind = iota
	// KindRateLimitExceeded means the tenant budget stayed empty after all retries
	KindRateLimitExceeded
	// KindUpstreamTimeout means a fan-out path missed its deadline
	KindUpstreamTimeout
	// KindCredentialRefresh means the token endpoint was unreachable or rejected the assertion
	KindCredentialRefresh
	// KindMalformedRecord means a single upstream entry could not be decoded
	KindMalformedRecord
	// KindUpstreamConflict means the partner rejected an update as conflicting
	KindUpstreamConflict
	// KindUpstreamUnauthorized means the partner rejected the bearer token
	KindUpstreamUnauthorized
	// KindUpstreamRateLimited means the partner answered 429
	KindUpstreamRateLimited
	// KindUpstreamUnavailable covers other non-2xx answers and network failures
	KindUpstreamUnavailable
	KindConfiguration
	KindNotFound
	KindValidation
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindRateLimitExceeded:    "rate_limit_exceeded",
	KindUpstreamTimeout:      "upstream_timeout",
	KindCredentialRefresh:    "credential_refresh_failure",
	KindMalformedRecord:      "malformed_upstream_record",
	KindUpstreamConflict:     "upstream_conflict",
	KindUpstreamUnauthorized: "upstream_unauthorized",
	KindUpstreamRateLimited:  "upstream_rate_limited",
	KindUpstreamUnavailable:  "upstream_unavailable",
	KindConfiguration:        "configuration",
	KindNotFound:             "not_found",
	KindValidation:           "validation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels matched with errors.Is against any *Error of the same kind
var (
	ErrRateLimitExceeded    = &Error{Kind: KindRateLimitExceeded}
	ErrUpstreamTimeout      = &Error{Kind: KindUpstreamTimeout}
	ErrCredentialRefresh    = &Error{Kind: KindCredentialRefresh}
	ErrMalformedRecord      = &Error{Kind: KindMalformedRecord}
	ErrUpstreamConflict     = &Error{Kind: KindUpstreamConflict}
	ErrUpstreamUnauthorized = &Error{Kind: KindUpstreamUnauthorized}
	ErrUpstreamRateLimited  = &Error{Kind: KindUpstreamRateLimited}
	ErrUpstreamUnavailable  = &Error{Kind: KindUpstreamUnavailable}
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrValidation           = &Error{Kind: KindValidation}
)

// Error is a classified failure. Op names the failing operation, Tenant is
// empty for process-wide failures.
type Error struct {
	Kind   Kind
	Op     string
	Tenant string
	Err    error
}

// New creates a classified error
func New(kind Kind, op, tenant string, err error) *Error {
	return &Error{Kind: kind, Op: op, Tenant: tenant, Err: err}
}

// Newf creates a classified error from a formatted message
func Newf(kind Kind, op, tenant, format string, args ...any) *Error {
	return New(kind, op, tenant, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Tenant != "" {
		msg += " (tenant " + e.Tenant + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinels match wrapped instances
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op) && (t.Tenant == "" || t.Tenant == e.Tenant)
}

// KindOf returns the kind of the outermost classified error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
