package sync

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := backoff{base: 100 * time.Millisecond, max: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.delay(0))
	assert.Equal(t, 100*time.Millisecond, b.delay(1))
	assert.Equal(t, 200*time.Millisecond, b.delay(2))
	assert.Equal(t, 800*time.Millisecond, b.delay(4))
	assert.Equal(t, time.Second, b.delay(5))
	assert.Equal(t, time.Second, b.delay(100))
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(remote.NewAPIError(http.StatusServiceUnavailable, remote.CodeUnavailable, "down")))
	assert.True(t, retryable(fmt.Errorf("upload: %w", remote.NewAPIError(http.StatusBadRequest, remote.CodeHashMismatch, "changed"))))
	assert.True(t, retryable(fmt.Errorf("%w: boom", utils.ErrIntegrity)))
	assert.False(t, retryable(remote.NewAPIError(http.StatusBadRequest, remote.CodeInvalidRequest, "bad")))
	assert.False(t, retryable(errors.New("permission denied")))
}
