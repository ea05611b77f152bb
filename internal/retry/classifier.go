package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Temporary is implemented by errors that know whether they are retryable,
// such as per-item failures reported by the search index.
type Temporary interface {
	Temporary() bool
}

// IndexClassifier treats timeouts, network failures and self-declared
// temporary errors as transient. Cancellation is always fatal.
type IndexClassifier struct{}

// NewIndexClassifier creates an IndexClassifier.
func NewIndexClassifier() *IndexClassifier {
	return &IndexClassifier{}
}

// IsTransient reports whether err is worth another attempt.
func (c *IndexClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-request timeout counts against the retry budget.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var tmp Temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "too many requests", "i/o timeout"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
