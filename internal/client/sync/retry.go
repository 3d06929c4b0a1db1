package sync

import (
	"errors"
	"time"

	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = time.Minute
)

// backoff is a capped exponential delay: base * 2^(attempt-1), at most max
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max || d <= 0 {
			return b.max
		}
	}
	return min(d, b.max)
}

// retryable reports whether a failed task should be tried again.
// A hash mismatch means the file changed while it was being uploaded.
func retryable(err error) bool {
	if remote.IsTransient(err) || errors.Is(err, utils.ErrIntegrity) {
		return true
	}
	var apiErr *remote.APIError
	return errors.As(err, &apiErr) && apiErr.Code == remote.CodeHashMismatch
}
