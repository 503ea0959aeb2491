package domain

import (
	"errors"
	"fmt"
)

// Classification is the failure classifier's verdict on a provider error.
type Classification string

const (
	// ClassIgnore covers caller cancellation; nothing is reported upstream.
	ClassIgnore Classification = "ignore"
	// ClassUserError is terminal: 500 to the caller, no failover.
	ClassUserError Classification = "user-error"
	// ClassQuota is a vendor quota, billing or rate-limit condition. Triggers failover.
	ClassQuota Classification = "quota"
	// ClassTransient is a vendor 5xx or upstream timeout. Triggers failover.
	ClassTransient Classification = "transient-server-error"
)

// Failover reports whether the orchestrator should try the next provider.
func (c Classification) Failover() bool {
	return c == ClassQuota || c == ClassTransient
}

// ProviderFailure is returned by adapters for every failed attempt.
type ProviderFailure struct {
	Provider       ProviderID
	HTTPStatus     int
	Message        string
	Classification Classification
	// MissingCredentials marks the precondition failure. It is always fatal.
	MissingCredentials bool
	Err                error
}

func (f *ProviderFailure) Error() string {
	if f.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", f.Provider, f.Message, f.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", f.Provider, f.Message)
}

func (f *ProviderFailure) Unwrap() error {
	return f.Err
}

// ErrMissingCredentials is the cause wrapped by credential precondition failures.
var ErrMissingCredentials = errors.New("api key not configured")

// MissingCredentials builds the fatal failure for an adapter without a key.
// keyName is the configuration key the operator needs to set.
func MissingCredentials(p ProviderID, keyName string) *ProviderFailure {
	msg := fmt.Sprintf("%s API key not configured", displayName(p))
	if keyName != "" {
		msg += fmt.Sprintf(" (%s)", keyName)
	}
	return &ProviderFailure{
		Provider:           p,
		Message:            msg,
		Classification:     ClassUserError,
		MissingCredentials: true,
		Err:                ErrMissingCredentials,
	}
}

// AsProviderFailure extracts a ProviderFailure from err.
func AsProviderFailure(err error) (*ProviderFailure, bool) {
	var f *ProviderFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func displayName(p ProviderID) string {
	switch p {
	case ProviderV0:
		return "v0"
	case ProviderClaude:
		return "Claude"
	case ProviderGrok:
		return "Grok"
	case ProviderDeepSeek:
		return "DeepSeek"
	}
	return string(p)
}

// DisplayName is the human name used in messages and notifications.
func (p ProviderID) DisplayName() string {
	return displayName(p)
}
