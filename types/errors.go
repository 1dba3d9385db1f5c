package types

import (
	"errors"
	"fmt"
)

// FetchError classifies adapter failures. Transient errors (timeouts,
// 5xx, truncated bodies) are retried with backoff; permanent errors
// (bad credentials, incompatible schema) disable the provider until a
// manual reset.
type FetchError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s fetch error (%s): %v", e.Provider, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func TransientFetchError(provider string, err error) error {
	return &FetchError{Provider: provider, Transient: true, Err: err}
}

func PermanentFetchError(provider string, err error) error {
	return &FetchError{Provider: provider, Transient: false, Err: err}
}

// IsTransientFetch reports whether err should be retried. Unclassified
// errors (e.g. plain context deadline) count as transient so that a
// flaky network path never permanently disables a provider.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return true
}

// ValidationError marks a raw point the normalizer refused. Such points
// are dropped and logged, never stored.
type ValidationError struct {
	Provider string
	Reason   string
	Raw      RawPricePoint
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid price point %s-%s: %s",
		e.Provider, e.Raw.Start.Format("2006-01-02T15:04"), e.Raw.End.Format("15:04"), e.Reason)
}

// ConfigError rejects an invalid provider or rule definition at load
// time, before anything reaches the pipeline.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
