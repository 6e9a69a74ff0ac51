package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"binary is skip", ErrCodeBinaryContent, CategoryIO, SeveritySkip, false},
		{"unsupported is skip", ErrCodeUnsupportedFormat, CategoryIO, SeveritySkip, false},
		{"model loading retries", ErrCodeModelLoading, CategoryNetwork, SeverityWarning, true},
		{"partial write retries", ErrCodePartialWrite, CategoryIO, SeverityWarning, true},
		{"graph transient retries", ErrCodeGraphTransient, CategoryInternal, SeverityWarning, true},
		{"graph write is fatal for the file", ErrCodeGraphWrite, CategoryInternal, SeverityError, false},
		{"config invalid", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestIndexError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(ErrCodeGraphWrite, cause)
	assert.ErrorIs(t, err, cause)
}

func TestIndexError_IsByCode(t *testing.T) {
	a := New(ErrCodeEmptyExtraction, "pdf produced no text", nil)
	b := New(ErrCodeEmptyExtraction, "different message", nil)
	assert.True(t, stderrors.Is(a, b))
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(Skip(ErrCodeBinaryContent, "null byte in sample")))
	assert.False(t, IsSkip(New(ErrCodeGraphWrite, "x", nil)))
	assert.False(t, IsSkip(stderrors.New("plain")))
	assert.False(t, IsSkip(nil))
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2.0}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("attempt %d failed", calls)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAndSurfacesOriginal(t *testing.T) {
	original := stderrors.New("persistent failure")
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return original
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
	assert.ErrorIs(t, err, original, "final error must wrap the original")
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
		RetryIf:      IsRetryable,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return New(ErrCodeUnsupportedFormat, "no handler for .xyz", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return stderrors.New("should not matter")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, stderrors.New("first fails")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
