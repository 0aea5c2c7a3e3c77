package rterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeResource, "pool exhausted"),
			expected: "[RESOURCE_ERROR] pool exhausted",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeTransport, "activate failed", errors.New("connection reset")),
			expected: "[TRANSPORT_ERROR] activate failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeUser, "hook failed", underlying)
	assert.Equal(t, underlying, err.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeConfig, "bad vp-map")
	err2 := New(CodeConfig, "bad binding")
	err3 := New(CodeInvariant, "double completion")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsConfig(Wrap(CodeConfig, "x", nil)))
	assert.True(t, IsInvariant(Wrap(CodeInvariant, "x", nil)))
	assert.True(t, IsResource(Wrap(CodeResource, "x", nil)))
	assert.True(t, IsTransport(Wrap(CodeTransport, "x", nil)))
	assert.True(t, IsUser(Wrap(CodeUser, "x", nil)))
	assert.False(t, IsConfig(errors.New("plain")))
}

func TestCode(t *testing.T) {
	assert.Equal(t, CodeResource, Code(New(CodeResource, "x")))
	assert.Equal(t, CodeUnknown, Code(errors.New("plain")))
	assert.Equal(t, CodeUnknown, Code(nil))
}
