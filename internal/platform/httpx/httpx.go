// Package httpx holds the retry/backoff helpers shared by every remote
// client in this module (ASR upload, LLM chat completions, SendGrid,
// ntfy/discord/pushover notifications).
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// HTTPStatusCoder lets an error carry the status code it was built
// from, so IsRetryableError can classify it without string matching.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var coder HTTPStatusCoder
	if errors.As(err, &coder) {
		return IsRetryableHTTPStatus(coder.HTTPStatusCode())
	}
	return false
}

// RetryAfterDuration reads the Retry-After header (seconds form only,
// the providers this module talks to never send the HTTP-date form)
// and caps it at max. Falls back to fallback when absent or invalid.
func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	if resp == nil {
		return fallback
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return fallback
	}
	d := time.Duration(secs) * time.Second
	if d > max {
		return max
	}
	return d
}

// JitterSleep applies +/-20% jitter to base, matching the backoff
// ladders in each stage executor ({1,2,4}s for 429, 2^attempt for 5xx).
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(base) * jitter)
}

// HTTPError is the shared non-2xx response wrapper returned by this
// module's remote clients.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return "http " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

func (e *HTTPError) HTTPStatusCode() int { return e.StatusCode }
