// Package apierr classifies the error kinds from spec §7 and maps them to
// HTTP status codes and retry policy, grounded on the teacher's pattern of
// wrapping errors with fmt.Errorf("...: %w", err) plus a single
// status-mapping layer (cmd/server/main.go's fiber.Config.ErrorHandler).
package apierr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for HTTP-status mapping, retry policy and
// billing behavior.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindBlocked
	KindInsufficientCredits
	KindIdempotency
	KindTimeout
	KindTransientNetwork
	KindPermanentFetch
	KindInsufficientTimeForPDF
	KindCancelled
)

// Error wraps an underlying error with a classification and optional
// upstream status code (for PermanentFetch/TransientNetwork).
type Error struct {
	Kind           Kind
	UpstreamStatus int
	Err            error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewUpstream builds a classified error carrying the fetch's upstream
// HTTP status (used for PermanentFetch/TransientNetwork).
func NewUpstream(kind Kind, status int, err error) *Error {
	return &Error{Kind: kind, UpstreamStatus: status, Err: err}
}

// Retriable reports whether the Job Queue should retry a unit that failed
// with this error (spec §4.2/§7).
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindTransientNetwork:
		return true
	default:
		return false
	}
}

// Billable reports whether a unit failing with this error kind should still
// be counted against the team's credits (validation/auth/idempotency never
// consume credits).
func (k Kind) Billable() bool {
	switch k {
	case KindValidation, KindAuth, KindIdempotency:
		return false
	default:
		return true
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindBlocked:
		return "blocked"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindIdempotency:
		return "idempotency"
	case KindTimeout:
		return "timeout"
	case KindTransientNetwork:
		return "transient_network"
	case KindPermanentFetch:
		return "permanent_fetch"
	case KindInsufficientTimeForPDF:
		return "insufficient_time_for_pdf"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// HTTPStatus maps a Kind to the §6.2 response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindBlocked:
		return http.StatusForbidden
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindIdempotency:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindPermanentFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
