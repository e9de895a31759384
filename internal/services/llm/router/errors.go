package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllProvidersFailed is matched by every exhaustion error
var ErrAllProvidersFailed = errors.New("all providers failed")

// ConfigurationError reports a request naming something the router does not know
type ConfigurationError struct {
	Field string
	Value string
	Valid []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("unknown %s: %q", e.Field, e.Value)
	}
	return fmt.Sprintf("unknown %s: %q (valid: %s)", e.Field, e.Value, strings.Join(e.Valid, ", "))
}

// callerError carries an error returned by the caller's stream handler so it
// is not blamed on the backend
type callerError struct {
	err error
}

func (e *callerError) Error() string {
	return e.err.Error()
}

func (e *callerError) Unwrap() error {
	return e.err
}

func (e *callerError) Retryable() bool {
	return false
}

// Attempt is one backend's outcome inside an AggregateError
type Attempt struct {
	Provider string
	Err      error
}

// AggregateError is returned when the primary backend and every fallback failed
type AggregateError struct {
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersFailed.Error()
	}

	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Provider, a.Err)
	}
	return fmt.Sprintf("%s: %s", ErrAllProvidersFailed, strings.Join(parts, "; "))
}

// Last returns the most recent backend error, or nil
func (e *AggregateError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Unwrap exposes ErrAllProvidersFailed and the last concrete error
func (e *AggregateError) Unwrap() []error {
	if last := e.Last(); last != nil {
		return []error{ErrAllProvidersFailed, last}
	}
	return []error{ErrAllProvidersFailed}
}

// Providers lists the backends tried, in order
func (e *AggregateError) Providers() []string {
	ids := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		ids[i] = a.Provider
	}
	return ids
}
