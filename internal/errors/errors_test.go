package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeGrant, http.StatusBadRequest},
		{TypeAuthentication, http.StatusUnauthorized},
		{TypeTokenInvalid, http.StatusUnauthorized},
		{TypeForbidden, http.StatusForbidden},
		{TypeNotFound, http.StatusNotFound},
		{TypeRateLimited, http.StatusTooManyRequests},
		{TypeEncryption, http.StatusInternalServerError},
		{TypeKeyRotation, http.StatusInternalServerError},
		{TypeInternal, http.StatusInternalServerError},
		{ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType, Message: "test"}
			assert.Equal(t, tt.want, err.HTTPStatus())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "root cause")
}

func TestGrantErrorf_WireShape(t *testing.T) {
	err := GrantErrorf(GrantInvalidGrant, "authorization code expired")

	assert.Equal(t, TypeGrant, err.Type)
	resp := err.ToGrantResponse()
	assert.Equal(t, "invalid_grant", resp.Error)
	assert.Equal(t, "authorization code expired", resp.ErrorDescription)
}

func TestRateLimitedError_RetryAfter(t *testing.T) {
	err := RateLimitedError(90 * time.Second)

	resp := err.ToResponse()
	assert.Equal(t, int64(90), resp.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("structured error unchanged", func(t *testing.T) {
		orig := ValidationError("bad input")
		assert.Same(t, orig, AsStructuredError(orig))
	})

	t.Run("wrapped structured error recovered", func(t *testing.T) {
		orig := TokenInvalidError(nil)
		wrapped := fmt.Errorf("handler: %w", orig)
		assert.Same(t, orig, AsStructuredError(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		err := AsStructuredError(errors.New("boom"))
		require.NotNil(t, err)
		assert.Equal(t, TypeInternal, err.Type)
	})
}

func TestWithContext(t *testing.T) {
	err := ValidationError("bad").WithContext("field", "email")
	assert.Equal(t, "email", err.Context["field"])
}
