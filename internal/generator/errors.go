package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/local/viewsynth/internal/pagesource"
	"github.com/local/viewsynth/internal/raster"
	"github.com/local/viewsynth/internal/sampling"
	"github.com/local/viewsynth/internal/viewport"
)

// ValidationError represents a fatal problem with a job payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// ShardError wraps the failure of one shard of a job.
type ShardError struct {
	Shard int
	Index int
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %d, sample %d: %v", e.Shard, e.Index, e.Err)
}

func (e *ShardError) Unwrap() error { return e.Err }

// isFatal reports errors that a retry cannot fix: bad input, unsupported
// sources and pages on which no informative view exists.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	for _, target := range []error{
		sampling.ErrSamplingExhausted,
		raster.ErrInvalidRaster,
		viewport.ErrInvalidViewport,
		viewport.ErrDegenerateFieldOfView,
		pagesource.ErrUnsupportedType,
		pagesource.ErrPageRange,
		os.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var httpErr *pagesource.HTTPError
	if errors.As(err, &httpErr) {
		// 4xx except 408/429 will not change on retry
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != 408 && httpErr.StatusCode != 429
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "failed to decode image") ||
		strings.Contains(errStr, "pdf page count failed")
}

// isRetryable checks if a failed job should go back to the delayed queue.
func isRetryable(err error) bool {
	if err == nil || isFatal(err) {
		return false
	}
	// cancellation is not a failure
	return !errors.Is(err, context.Canceled)
}
