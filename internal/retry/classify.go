package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"unavailable",
	"rate limit",
	"too many requests",
}

// transientCode matches a standalone 429 or 5xx gateway code, not 5000 or 4290
var transientCode = regexp.MustCompile(`\b(429|50[0234])\b`)

// IsRetryable classifies timeouts, connection failures, 5xx and 429 responses
// as transient
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return retryableStatus(coded.StatusCode())
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return transientCode.MatchString(msg)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
