package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/onnwee/yuka/openrouter"
)

// ErrorClass groups upstream failures for logging and metrics.
type ErrorClass int

const (
	// ErrorClassRateLimited is an upstream 429; the same model is retried after a backoff.
	ErrorClassRateLimited ErrorClass = iota
	// ErrorClassTransient covers 5xx, timeouts and network failures.
	ErrorClassTransient
	// ErrorClassFatal covers client errors such as bad credentials or unknown models.
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRateLimited:
		return "rate_limited"
	case ErrorClassTransient:
		return "transient"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyUpstreamError maps an upstream error to its class.
// Only ErrorClassRateLimited changes control flow; every other class ends the attempts for that model.
func ClassifyUpstreamError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	var se *openrouter.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return ErrorClassRateLimited
		case se.Code >= 500:
			return ErrorClassTransient
		case se.Code >= 400:
			return ErrorClassFatal
		}
		return ErrorClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ErrorClassTransient
	}
	return ErrorClassUnknown
}
