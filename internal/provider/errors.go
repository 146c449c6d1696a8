package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies why a provider refused or failed a send.
type ErrorKind string

const (
	// KindTransient covers timeouts, 5xx and connection failures.
	KindTransient ErrorKind = "transient"
	// KindRateLimited is a 429 from the provider; retryable like transient.
	KindRateLimited ErrorKind = "rate_limited"
	// KindPermanent is a 4xx rejection such as an invalid recipient.
	KindPermanent ErrorKind = "permanent"
)

// ProviderError classifies provider call failures.
type ProviderError struct {
	StatusCode int
	Message    string
	Kind       ErrorKind
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify returns the ErrorKind of err. Unknown errors are treated as
// transient so they count against the provider and get retried.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Kind != "" {
		return providerErr.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}

// IsTransient reports whether an error should be retried and counted as a
// provider fault.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	kind := Classify(err)
	return kind == KindTransient || kind == KindRateLimited
}

// IsPermanent reports whether the provider rejected the message outright.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == KindPermanent
}
