package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes used across the preview pipeline.
const (
	CodeValidationRejected = "VALIDATION_REJECTED"
	CodeRenderFailed       = "RENDER_FAILED"
	CodeRenderTimeout      = "RENDER_TIMEOUT"
	CodeRendererNotFound   = "RENDERER_NOT_FOUND"
	CodeInvalidOptions     = "INVALID_RENDER_OPTIONS"
	CodeInvalidConfig      = "INVALID_CONFIG"
)

// ErrPipelineStopped is returned when input is offered to a pipeline whose
// loop is no longer running.
var ErrPipelineStopped = errors.New("preview pipeline stopped")

// PreviewError is a structured error type with context.
type PreviewError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PreviewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PreviewError) Is(target error) bool {
	var t *PreviewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PreviewError) WithContext(key string, value interface{}) *PreviewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile adds the diagram file the error relates to.
func (e *PreviewError) WithFile(filePath string) *PreviewError {
	e.FilePath = filePath

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewRenderError creates a render failure. The message is what the user
// sees in the error state, so callers pass the renderer's own wording.
func NewRenderError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTimeoutError creates a render timeout, a RenderFailure variant.
func NewTimeoutError(message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeTimeout,
		Code:        CodeRenderTimeout,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsTimeout reports whether err is a render timeout.
func IsTimeout(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeTimeout
	}

	return false
}

// IsRenderError reports whether err is a render failure, timeouts included.
func IsRenderError(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeRender || pe.Type == ErrorTypeTimeout
	}

	return false
}

// Reason returns the message shown to the user for err: the renderer's own
// wording for structured errors, err.Error() otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var pe *PreviewError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}

	return err.Error()
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level matching its recoverability.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var pe *PreviewError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error")
		return
	}

	fields := []interface{}{"error_type", string(pe.Type), "code", pe.Code}
	for k, v := range pe.Context {
		fields = append(fields, k, v)
	}

	if pe.Recoverable {
		h.logger.Warn(ctx, err, "Recoverable error", fields...)
		return
	}
	h.logger.Error(ctx, err, "Unrecoverable error", fields...)
}
