package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		wantMsg  string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"sku-9"}}`, apperrors.ErrNotFound, "sku-9"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"VALIDATION_ERROR","message":"bad id"}}`, apperrors.ErrValidation, "bad id"},
		{"unauthorized", http.StatusUnauthorized, `nope`, apperrors.ErrUnauthorized, "nope"},
		{"conflict", http.StatusConflict, `{}`, apperrors.ErrConflict, ""},
		{"too many", http.StatusTooManyRequests, `slow down`, apperrors.ErrTransient, ""},
		{"bad gateway", http.StatusBadGateway, `upstream`, apperrors.ErrTransient, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(response(tt.status, tt.body), "product-service")
			assert.ErrorIs(t, err, tt.sentinel)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseResponseError_UnexpectedStatus(t *testing.T) {
	err := ParseResponseError(response(http.StatusTeapot, "teapot"), "product-service")
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("catalog", nil))
	assert.ErrorIs(t, Classify("catalog", context.Canceled), context.Canceled)
	assert.False(t, apperrors.IsRetryable(Classify("catalog", context.Canceled)))

	retryable := []error{
		ErrCircuitOpen,
		ErrTooManyRequests,
		context.DeadlineExceeded,
		fmt.Errorf("dial tcp: %w", errors.New("connection refused")),
		&StatusError{Status: http.StatusServiceUnavailable},
	}
	for _, err := range retryable {
		assert.True(t, apperrors.IsRetryable(Classify("catalog", err)), "%v", err)
	}

	assert.ErrorIs(t, Classify("catalog", &StatusError{Status: http.StatusNotFound}), apperrors.ErrNotFound)
}
