package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/url"
	"os"
	"syscall"
	"time"
)

// Backoff returns the sleep before retry number attempt:
// 2^attempt seconds plus uniform jitter in [0,1) seconds.
func Backoff(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt))
	jitter := rand.Float64()
	return time.Duration((base + jitter) * float64(time.Second))
}

// Retryable classifies an error as a transient network failure worth
// retrying. Connect failures and read timeouts qualify; everything
// else propagates immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
