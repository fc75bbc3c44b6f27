package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Rejection reasons carried by PlatformError.
const (
	ReasonAuthExpired     = "auth_expired"
	ReasonRateLimited     = "rate_limited"
	ReasonPolicyViolation = "policy_violation"
	ReasonMalformed       = "malformed"
	ReasonContentTooLong  = "content_too_long"
	ReasonServer          = "server"
	ReasonNetwork         = "network"
	ReasonUnsupported     = "unsupported"
)

// ErrTransientNetwork marks transport failures (DNS, reset, timeout). They are
// retried exactly like remote rejections.
var ErrTransientNetwork = errors.New("transient network error")

// PlatformError is a remote rejection or transport failure for one platform.
type PlatformError struct {
	Platform string
	Reason   string
	Status   int
	Message  string
	Err      error
}

func (e *PlatformError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Platform, e.Reason)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *PlatformError) Unwrap() error { return e.Err }

// AsPlatformError extracts a PlatformError from err.
func AsPlatformError(err error) (*PlatformError, bool) {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func classifyStatus(status int, body string) string {
	lb := strings.ToLower(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuthExpired
	case status == http.StatusTooManyRequests:
		return ReasonRateLimited
	case status >= 500:
		return ReasonServer
	case strings.Contains(lb, "policy") || strings.Contains(lb, "violat") || strings.Contains(lb, "spam"):
		return ReasonPolicyViolation
	default:
		return ReasonMalformed
	}
}

func networkError(platform string, err error) *PlatformError {
	return &PlatformError{Platform: platform, Reason: ReasonNetwork, Err: fmt.Errorf("%w: %v", ErrTransientNetwork, err)}
}
