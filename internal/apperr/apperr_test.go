package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and message",
			err:  Validation(CodeInvalidIndex, "index %d out of range", 7),
			want: "INVALID_INDEX: index 7 out of range",
		},
		{
			name: "scope and entity",
			err:  NotFound("banners", "b-1"),
			want: "ENTITY_NOT_FOUND: entity not found in collection (scope=banners, id=b-1)",
		},
		{
			name: "scope only",
			err:  Validation(CodeUnknownScope, "unknown scope").WithScope("tags", ""),
			want: "UNKNOWN_SCOPE: unknown scope (scope=tags)",
		},
		{
			name: "wrapped cause",
			err:  Transport(CodeRequestFailed, 502, errors.New("bad gateway")),
			want: "REQUEST_FAILED: request failed with status 502: bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindHelpers_ThroughWrapping(t *testing.T) {
	base := Busy("move_up", "categories", "c-1")
	wrapped := fmt.Errorf("move: %w", base)

	assert.True(t, IsBusy(wrapped))
	assert.True(t, IsLocal(wrapped))
	assert.False(t, IsTransport(wrapped))
	assert.Equal(t, CodeActionInFlight, CodeOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestTransport_Status(t *testing.T) {
	err := fmt.Errorf("submit: %w", Transport(CodeRequestFailed, 409, nil))
	assert.Equal(t, 409, StatusOf(err))
	assert.True(t, IsTransport(err))
	assert.False(t, IsLocal(err))
}

func TestUnauthorized(t *testing.T) {
	err := Unauthorized(CodeSessionExpired, "session expired, log in again")
	require.True(t, IsUnauthorized(err))
	assert.Equal(t, 401, err.Status)
}

func TestWithScope_DoesNotOverwrite(t *testing.T) {
	err := NotFound("banners", "b-1").WithScope("categories", "c-9")
	assert.Equal(t, "banners", err.Scope)
	assert.Equal(t, "b-1", err.EntityID)
}
