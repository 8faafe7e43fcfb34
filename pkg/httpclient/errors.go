package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
)

// StatusError reports a downstream response with an unexpected status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// DownstreamErrorResponse is the error envelope written by pkg/httputil,
// used to recover the code and message of a failed downstream call.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and translates it into an
// AppError. The body is consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Transient(serviceName, fmt.Errorf("read error body: %w", err))
	}

	message := string(body)
	var downstream DownstreamErrorResponse
	if json.Unmarshal(body, &downstream) == nil && downstream.Error != nil {
		message = downstream.Error.Message
	}

	return mapStatus(resp.StatusCode, message, serviceName)
}

func mapStatus(status int, message, serviceName string) error {
	qualified := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.Validation(qualified)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return apperrors.Unauthorized(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return apperrors.Transient(serviceName, &StatusError{Status: status, Body: message})
	default:
		return apperrors.Internal(&StatusError{Status: status, Body: qualified})
	}
}

// Classify converts a failed call (no usable response) into the error
// taxonomy. Transport failures, timeouts, open circuits and 5xx responses
// are transient. Caller cancellation is passed through unchanged.
func Classify(serviceName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return mapStatus(statusErr.Status, statusErr.Body, serviceName)
	}

	return apperrors.Transient(serviceName, err)
}
