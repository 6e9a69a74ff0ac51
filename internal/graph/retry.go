package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

// writeRetryConfig is the transient-retry policy for graph writes:
// 100ms * 2^attempt plus 0-50ms jitter, capped at 2s, 3 retries.
func writeRetryConfig() fgerrors.RetryConfig {
	return fgerrors.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      IsTransient,
	}
}

// withWriteRetry runs op under the transient-retry policy.
func withWriteRetry(ctx context.Context, op func() error) error {
	return fgerrors.Retry(ctx, writeRetryConfig(), op)
}

// IsTransient reports whether a graph error is expected to succeed on
// retry: deadlocks, lock timeouts and the server's transient class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		code := neoErr.Code
		return strings.Contains(code, "TransientError") ||
			strings.Contains(code, "DeadlockDetected") ||
			strings.Contains(code, "LockClientStopped")
	}

	if fgerrors.GetCode(err) == fgerrors.ErrCodeGraphTransient {
		return true
	}
	return false
}
