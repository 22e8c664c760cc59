// Package genai holds the plumbing shared by every remote generation call:
// the typed provider-error taxonomy, the retry policy, and model resolution.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIKeyError means no usable API key could be found for a provider. It is
// fatal to the session, not just to the call: every caller up to the
// top-level session handler special-cases it as "re-authenticate".
type APIKeyError struct {
	Provider string
}

func (e *APIKeyError) Error() string {
	if e.Provider == "" {
		return "api key missing"
	}
	return fmt.Sprintf("api key missing for provider %q", e.Provider)
}

// ConfigError means no model of the requested kind is configured.
type ConfigError struct {
	Kind string
	Hint string
}

func (e *ConfigError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("no %s model configured matching %q", e.Kind, e.Hint)
	}
	return fmt.Sprintf("no %s model configured", e.Kind)
}

// HTTPError carries a non-2xx provider response. Classification is by status
// code: 400 is a content-policy rejection (fatal, the user must edit the
// prompt), 429 and >=500 are transient.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Body)
}

// ContentPolicy reports whether the response was a 400 rejection.
func (e *HTTPError) ContentPolicy() bool { return e.StatusCode == http.StatusBadRequest }

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// TimeoutError is a client-side abort: the engine gave up waiting, the remote
// provider may still be working. Terminal marks expiry of a protocol-level
// deadline (the 20-minute video budget); those are not retried, while
// ordinary per-call aborts are.
type TimeoutError struct {
	Op       string
	Terminal bool
}

func (e *TimeoutError) Error() string {
	if e.Op == "" {
		return "operation timed out"
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

// ParseError means the provider answered 2xx but the body did not have the
// expected shape.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed provider response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed provider response: %s", e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DownloadError means generation succeeded but the result stayed unreachable
// after the download attempt budget. Kept distinct from generation failure
// for diagnosis.
type DownloadError struct {
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("result download failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsAPIKey reports whether err is (or wraps) an APIKeyError.
func IsAPIKey(err error) bool {
	var target *APIKeyError
	return errors.As(err, &target)
}

// IsContentPolicy reports whether err is a 400 content-policy rejection.
func IsContentPolicy(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.ContentPolicy()
}

// IsTimeout reports whether err is a client-side abort, either the typed
// TimeoutError or a context deadline surfaced by the transport.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable is the single retry classification for the whole engine: a
// pure match over the closed set of error kinds, never substring sniffing.
// Transient HTTP statuses, timeouts, and transport-level failures retry;
// everything else fails immediately.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsAPIKey(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		// The download budget is already exhausted inside the protocol.
		return false
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return !timeoutErr.Terminal
	}
	if IsTimeout(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
