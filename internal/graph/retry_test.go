package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/filegraph/filegraph/internal/errors"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadlock", &db.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}, true},
		{"lock client stopped", &db.Neo4jError{Code: "Neo.DatabaseError.Transaction.LockClientStopped"}, true},
		{"generic transient", &db.Neo4jError{Code: "Neo.TransientError.General.TransactionMemoryLimit"}, true},
		{"constraint violation", &db.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}, false},
		{"coded transient", fgerrors.New(fgerrors.ErrCodeGraphTransient, "busy", nil), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestWithWriteRetry_RecoversFromDeadlock(t *testing.T) {
	calls := 0
	err := withWriteRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &db.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithWriteRetry_NonTransientSurfacesImmediately(t *testing.T) {
	calls := 0
	wantErr := &db.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}
	err := withWriteRetry(context.Background(), func() error {
		calls++
		return wantErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var neoErr *db.Neo4jError
	assert.True(t, errors.As(err, &neoErr))
}

func TestWithWriteRetry_ExhaustionSurfacesOriginal(t *testing.T) {
	calls := 0
	err := withWriteRetry(context.Background(), func() error {
		calls++
		return &db.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus 3 retries")
	var neoErr *db.Neo4jError
	assert.True(t, errors.As(err, &neoErr), "original error reachable via unwrap")
}
