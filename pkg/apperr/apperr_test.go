package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := NotFound("milestone not found")
	wrapped := fmt.Errorf("loading milestone: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "milestone not found", MessageOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindConflict}))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad id"), http.StatusBadRequest},
		{Conflict("Milestone is already completed"), http.StatusBadRequest},
		{Auth("missing token"), http.StatusUnauthorized},
		{AccessDenied("not a party"), http.StatusForbidden},
		{NotFound("booking not found"), http.StatusNotFound},
		{Transient(errors.New("dial tcp"), "store unavailable"), http.StatusServiceUnavailable},
		{FatalConfig("db.host required"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(cause, "subscribe failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "subscribe failed: connection reset", err.Error())
}
