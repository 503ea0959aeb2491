// Package classify decides whether a provider error should fail over to the
// next vendor, be reported to the caller, or be ignored.
package classify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// quotaPhrases are matched case-insensitively against vendor error text.
var quotaPhrases = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"credit balance",
	"billing",
	"spending limit",
	"credits",
}

// transientPhrases are matched case-insensitively against vendor error text.
var transientPhrases = []string{
	"internal_server_error",
	"unexpected error",
}

// statusLiterals are matched case-sensitively, as vendors embed them in SDK messages.
var statusLiterals = []string{"HTTP 500", "HTTP 502", "HTTP 503"}

// Status classifies an HTTP status code alone. Zero means unknown.
func Status(code int) (domain.Classification, bool) {
	switch code {
	case http.StatusTooManyRequests:
		return domain.ClassQuota, true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return domain.ClassTransient, true
	}
	return "", false
}

// Message classifies vendor error text alone.
func Message(msg string) (domain.Classification, bool) {
	for _, lit := range statusLiterals {
		if strings.Contains(msg, lit) {
			return domain.ClassTransient, true
		}
	}

	lower := strings.ToLower(msg)
	for _, p := range quotaPhrases {
		if strings.Contains(lower, p) {
			return domain.ClassQuota, true
		}
	}
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return domain.ClassTransient, true
		}
	}
	return "", false
}

// Classify combines status and message. Anything not recognised is a user error.
func Classify(status int, msg string) domain.Classification {
	if c, ok := Status(status); ok {
		return c
	}
	if c, ok := Message(msg); ok {
		return c
	}
	return domain.ClassUserError
}

// ErrFirstResponseTimeout is the cause recorded when a vendor sends nothing in time.
var ErrFirstResponseTimeout = errors.New("upstream did not respond in time")

// Failure builds a ProviderFailure for err.
//
// callerCtx is the request context; when it is done the caller went away and
// the failure is ignored rather than failed over. An attempt-scoped deadline
// (callerCtx still live) is a transient failure.
func Failure(callerCtx context.Context, provider domain.ProviderID, status int, msg string, err error) *domain.ProviderFailure {
	f := &domain.ProviderFailure{
		Provider:   provider,
		HTTPStatus: status,
		Message:    msg,
		Err:        err,
	}
	if f.Message == "" && err != nil {
		f.Message = err.Error()
	}

	switch {
	case callerCtx != nil && callerCtx.Err() != nil:
		f.Classification = domain.ClassIgnore
	case errors.Is(err, ErrFirstResponseTimeout), errors.Is(err, context.DeadlineExceeded):
		f.Classification = domain.ClassTransient
	default:
		f.Classification = Classify(status, f.Message)
	}
	return f
}

// Of returns the classification carried by err. Errors that are not
// ProviderFailures are user errors unless they are cancellations.
func Of(err error) domain.Classification {
	if f, ok := domain.AsProviderFailure(err); ok {
		if f.MissingCredentials {
			return domain.ClassUserError
		}
		return f.Classification
	}
	if errors.Is(err, context.Canceled) {
		return domain.ClassIgnore
	}
	return Classify(0, err.Error())
}
