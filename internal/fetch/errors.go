package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the single failure type returned by Client. Callers branch on its
// classification fields instead of inspecting transport errors.
type Error struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	// IsCORSError marks a network-level failure with no HTTP response at all
	// (connection refused, DNS failure, policy block). It is never retried.
	IsCORSError   bool `json:"isCorsError"`
	IsTimeout     bool `json:"isTimeout"`
	IsRateLimited bool `json:"isRateLimited"`
	IsCircuitOpen bool `json:"isCircuitOpen,omitempty"`
	// IsTruncated marks a response whose body broke off after the status
	// line arrived.
	IsTruncated bool  `json:"isTruncated,omitempty"`
	Attempts    int   `json:"attempts"`
	Err         error `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.IsCircuitOpen:
		return fmt.Sprintf("fetch %s: source temporarily disabled: %v", e.URL, e.Err)
	case e.IsTimeout:
		return fmt.Sprintf("fetch %s: timed out after %d attempt(s)", e.URL, e.Attempts)
	case e.IsTruncated:
		return fmt.Sprintf("fetch %s: response body truncated after HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	case e.IsCORSError:
		return fmt.Sprintf("fetch %s: network request failed: %v", e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, e.StatusText)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: failed", e.URL)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: timeouts, broken
// bodies, rate limiting and server errors.
func (e *Error) Transient() bool {
	return e.IsTimeout || e.IsTruncated || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsTransient reports whether err carries a transient fetch failure.
func IsTransient(err error) bool {
	fe, ok := AsError(err)
	return ok && fe.Transient()
}
