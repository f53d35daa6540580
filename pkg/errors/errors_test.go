package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("loading: %w", NotFound("assignment", "a-1"))

	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))
	assert.True(t, Is(err, New(ErrCodeNotFound, "assignment not found: a-1")))
	assert.False(t, Is(err, New(ErrCodeNotFound, "decision not found: a-1")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeUpstream, "ignored"))

	err := Upstream(io.ErrUnexpectedEOF, "query failed")
	assert.Equal(t, ErrCodeUpstream, CodeOf(err))
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "query failed")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "comment: required", InvalidInput("comment", "required").Error())
	assert.Equal(t, "FORBIDDEN", ErrForbidden.Error())
}

func TestCodeOfAndHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		code   Code
		status int
	}{
		{InvalidInput("id", "required"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NotFound("assignment", "x"), ErrCodeNotFound, http.StatusNotFound},
		{Conflict("stale version"), ErrCodeConflict, http.StatusConflict},
		{AssignmentClosed("finalized", "record decision"), ErrCodeAssignmentClosed, http.StatusConflict},
		{NotAnApprover("u-9"), ErrCodeNotAnApprover, http.StatusForbidden},
		{ErrForbidden, ErrCodeForbidden, http.StatusForbidden},
		{ErrUnauthorized, ErrCodeUnauthorized, http.StatusUnauthorized},
		{Upstream(io.EOF, "down"), ErrCodeUpstream, http.StatusBadGateway},
		{io.EOF, ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
	assert.False(t, IsRetryable(Conflict("x")))
	assert.False(t, HasCode(nil, ErrCodeInternal))
}
