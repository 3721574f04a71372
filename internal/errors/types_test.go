package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *PreviewError
		expected string
	}{
		{
			name:     "message only",
			err:      &PreviewError{Message: "something broke"},
			expected: "something broke",
		},
		{
			name:     "code and message",
			err:      NewRenderError(CodeRenderFailed, "mmdc error: bad input", nil),
			expected: "[RENDER_FAILED] mmdc error: bad input",
		},
		{
			name:     "with file and cause",
			err:      NewIOError("READ_FAILED", "cannot read diagram", errors.New("permission denied")).WithFile("flow.mmd"),
			expected: "[READ_FAILED] flow.mmd cannot read diagram: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestPreviewErrorUnwrapAndIs(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewTimeoutError("render timed out after 1s", cause)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, &PreviewError{Type: ErrorTypeTimeout, Code: CodeRenderTimeout}))
	assert.False(t, errors.Is(err, &PreviewError{Type: ErrorTypeRender, Code: CodeRenderFailed}))

	wrapped := fmt.Errorf("request 7: %w", err)
	var pe *PreviewError
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, ErrorTypeTimeout, pe.Type)
}

func TestPredicates(t *testing.T) {
	render := NewRenderError(CodeRenderFailed, "mmdc error: x", nil)
	timeout := NewTimeoutError("timed out", nil)
	config := NewConfigError(CodeInvalidConfig, "bad port")
	plain := errors.New("plain")

	assert.True(t, IsRenderError(render))
	assert.True(t, IsRenderError(timeout))
	assert.False(t, IsRenderError(config))
	assert.False(t, IsRenderError(plain))

	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsTimeout(render))

	assert.True(t, IsRecoverable(render))
	assert.True(t, IsRecoverable(NewValidationError(CodeValidationRejected, "fragment")))
	assert.False(t, IsRecoverable(config))
	assert.False(t, IsRecoverable(plain))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "mmdc error: Parse error on line 2",
		Reason(NewRenderError(CodeRenderFailed, "mmdc error: Parse error on line 2", errors.New("exit status 1"))))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
	assert.Equal(t, "timed out", Reason(fmt.Errorf("wrapped: %w", NewTimeoutError("timed out", nil))))
}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (r *recordingLogger) Error(_ context.Context, _ error, msg string, _ ...interface{}) {
	r.errors = append(r.errors, msg)
}

func (r *recordingLogger) Warn(_ context.Context, _ error, msg string, _ ...interface{}) {
	r.warns = append(r.warns, msg)
}

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewRenderError(CodeRenderFailed, "failed", nil).WithContext("sequence", 3))
	handler.Handle(ctx, NewConfigError(CodeInvalidConfig, "bad"))
	handler.Handle(ctx, errors.New("plain"))

	assert.Equal(t, []string{"Recoverable error"}, logger.warns)
	assert.Equal(t, []string{"Unrecoverable error", "Unhandled error"}, logger.errors)
}
