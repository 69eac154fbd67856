package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestServerError(t *testing.T) {
	se := &ServerError{Status: 404, Message: "No project with name 'p' found."}
	wrapped := Wrap(se, "Connection", "Project", "get project")

	got, ok := AsServerError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 404, got.Status)
	assert.True(t, IsServerError(wrapped))
	assert.True(t, IsInvalid(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "server returned status 500", (&ServerError{Status: 500}).Error())
	assert.True(t, IsTransient(&ServerError{Status: 503}))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"timeout", ErrConnectionTimeout, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"invalid value", ErrInvalidValue, false, true, false},
		{"invalid path", fmt.Errorf("x: %w", ErrInvalidPath), false, true, false},
		{"config", ErrInvalidConfig, false, false, true},
		{"version", ErrUnsupportedVersion, false, false, true},
		{"classified invalid", WrapInvalid(errors.New("x"), "c", "m", "a"), false, true, false},
		{"classified fatal", WrapFatal(errors.New("x"), "c", "m", "a"), false, false, true},
		{"classified transient", WrapTransient(errors.New("x"), "c", "m", "a"), true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "c", "m", "a"))
	assert.Nil(t, WrapInvalid(nil, "c", "m", "a"))

	err := Wrap(ErrNotFound, "Connection", "Window", "lookup")
	assert.Equal(t, "Connection.Window: lookup failed: not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidf(t *testing.T) {
	err := Invalidf(ErrInvalidValue, "Project", "SetPubsub", "%q is not one of %v", "x", []string{"none", "auto"})
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.True(t, IsInvalid(err))
	assert.Contains(t, err.Error(), `Project.SetPubsub: "x" is not one of [none auto]`)
}

func TestFatalf(t *testing.T) {
	err := Fatalf(ErrUnsupportedVersion, "Connection", "CheckVersion", "server version %s is older than %d.%d", "5.1", 5, 2)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.True(t, IsFatal(err))
	assert.False(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "Connection.CheckVersion: server version 5.1 is older than 5.2")
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrInvalidValue, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))

	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
