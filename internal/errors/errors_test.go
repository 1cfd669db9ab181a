package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		typ    ErrorType
	}{
		{"validation", NewValidationError("bad", nil), http.StatusBadRequest, ErrorTypeValidation},
		{"invalid image", NewInvalidImageError("bad bytes", io.ErrUnexpectedEOF), http.StatusBadRequest, ErrorTypeInvalidImage},
		{"not ready", NewNotReadyError("model not loaded"), http.StatusServiceUnavailable, ErrorTypeNotReady},
		{"transient", NewTransientBackendError("timeout", nil), http.StatusOK, ErrorTypeTransientBackend},
		{"fatal", NewFatalBackendError("boom", nil), http.StatusInternalServerError, ErrorTypeFatalBackend},
		{"rate limited", NewRateLimitedError("slow down"), http.StatusTooManyRequests, ErrorTypeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, GetStatusCode(tt.err))
			assert.True(t, IsType(tt.err, tt.typ))
		})
	}
}

func TestWrappedAppError(t *testing.T) {
	inner := NewNotReadyError("model not loaded")
	wrapped := fmt.Errorf("extract: %w", inner)

	assert.True(t, IsType(wrapped, ErrorTypeNotReady))
	assert.Equal(t, http.StatusServiceUnavailable, GetStatusCode(wrapped))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(io.EOF))
}

func TestErrorString(t *testing.T) {
	err := NewInvalidImageError("cannot decode", io.ErrUnexpectedEOF)
	assert.Equal(t, "invalid_image: cannot decode (caused by: unexpected EOF)", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	withDetails := err.WithDetails("png: invalid format")
	assert.Equal(t, "png: invalid format", withDetails.Details)
	assert.Empty(t, err.Details)
}
