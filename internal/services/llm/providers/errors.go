package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the closed set of failure classes an adapter may report.
// Retryability is a property of the kind, never of the message text.
type ErrorKind int

const (
	// Transient
	KindRateLimit ErrorKind = iota + 1
	KindNetwork
	KindServer
	KindTimeout
	KindOverloaded

	// Permanent
	KindAuth
	KindBadRequest
	KindNotFound
	KindContentFilter
	KindNotConfigured
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindTimeout:
		return "timeout"
	case KindOverloaded:
		return "overloaded"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindContentFilter:
		return "content_filter"
	case KindNotConfigured:
		return "not_configured"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same backend may succeed if asked again
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindServer, KindTimeout, KindOverloaded:
		return true
	default:
		return false
	}
}

// ProviderError is the only error type adapters return from Chat/StreamChat
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewError builds a ProviderError of the given kind
func NewError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message}
}

// ClassifyHTTPStatus maps a non-2xx status onto an ErrorKind. Every status maps somewhere.
func ClassifyHTTPStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
		return KindAuth
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusServiceUnavailable, 529:
		return KindOverloaded
	case http.StatusUnavailableForLegalReasons:
		return KindContentFilter
	}

	switch {
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindBadRequest
	default:
		return KindServer
	}
}

// HTTPError builds a ProviderError from a failed HTTP exchange
func HTTPError(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &ProviderError{
		Kind:       ClassifyHTTPStatus(status),
		Provider:   provider,
		StatusCode: status,
		Message:    message,
	}
}

// ClassifyTransportError wraps an error raised before a response was received
func ClassifyTransportError(ctx context.Context, provider string, err error) *ProviderError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr
	}

	kind := KindNetwork
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}

	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// retryClassifier is implemented by ProviderError and by the resilience and
// breaker errors the router sees.
type retryClassifier interface {
	Retryable() bool
}

// IsRetryable reports whether err describes a transient condition.
// Errors that carry no classification are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var classified retryClassifier
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return true
}
