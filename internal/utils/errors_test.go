package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument: http.StatusBadRequest,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeUnavailable:     http.StatusServiceUnavailable,
		CodeTimeout:         http.StatusGatewayTimeout,
		CodeConfiguration:   http.StatusInternalServerError,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(E(code, "op", "msg", nil)), code)
	}

	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestAppErrorWrapping(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("outer: %w", E(CodeUnavailable, "Retriever.Retrieve", "embedding failed", inner))

	assert.True(t, IsCode(err, CodeUnavailable))
	assert.False(t, IsCode(err, CodeInternal))
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(inner))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "Retriever.Retrieve: embedding failed: connection refused")
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	assert.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "s3cret-pass"))
	assert.Error(t, CheckPassword(hash, "wrong"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("12345678"))
	assert.ErrorContains(t, ValidatePassword("short"), "at least 8")
	assert.ErrorContains(t, ValidatePassword(strings.Repeat("x", 73)), "at most 72")

	_, err := HashPassword("short")
	assert.Error(t, err)
}
