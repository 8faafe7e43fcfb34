package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrValidation, ErrTransient,
		ErrUnauthorized, ErrConflict, ErrInternal,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j])
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	withCause := &AppError{Code: "INTERNAL_ERROR", Message: "boom", Err: fmt.Errorf("disk full")}
	assert.Equal(t, "INTERNAL_ERROR: boom: disk full", withCause.Error())

	bare := &AppError{Code: "NOT_FOUND", Message: "cart item missing"}
	assert.Equal(t, "NOT_FOUND: cart item missing", bare.Error())
}

func TestNotFound(t *testing.T) {
	err := NotFound("cart item", "item-1")
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Contains(t, err.Message, "item-1")
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidation(t *testing.T) {
	err := Validation("quantity must be at least 1")
	assert.Equal(t, "VALIDATION_ERROR", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, IsRetryable(err))
}

func TestTransient_WrapsCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Transient("cart store", cause)

	assert.Equal(t, "TRANSIENT_ERROR", err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsRetryable(fmt.Errorf("merge: %w", err)))
}

func TestTransient_NilCause(t *testing.T) {
	err := Transient("catalog", nil)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", Unauthorized("bad token"), http.StatusUnauthorized},
		{"wrapped not found", fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{"wrapped validation", fmt.Errorf("add: %w", ErrValidation), http.StatusBadRequest},
		{"wrapped transient", fmt.Errorf("list: %w", ErrTransient), http.StatusServiceUnavailable},
		{"conflict", Conflict("busy"), http.StatusConflict},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
