package engine

import (
	"errors"
	"fmt"

	"github.com/kaoskorobase/banga/pkg/native"
)

// ErrorClass classifies an error for callers deciding how to react.
// Nothing in this package retries; the class only informs the caller.
type ErrorClass string

const (
	// ErrorClassNativeFault indicates the engine's native API reported a
	// non-zero error code.
	ErrorClassNativeFault ErrorClass = "native_fault"

	// ErrorClassResourceExhausted indicates an identifier pool has no free
	// slot. Recoverable: free nodes or buses and try again.
	ErrorClassResourceExhausted ErrorClass = "resource_exhausted"

	// ErrorClassResourceMisuse indicates an identifier outside its pool's
	// range was released. Reported, never fatal.
	ErrorClassResourceMisuse ErrorClass = "resource_misuse"

	// ErrorClassUnsupported indicates an argument the OSC encoder cannot
	// represent.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassInvalidConfig indicates an engine configuration that failed
	// validation before any native call was made.
	ErrorClassInvalidConfig ErrorClass = "invalid_config"

	// ErrorClassClosed indicates use of a closed engine or a finished request.
	ErrorClassClosed ErrorClass = "closed"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from native.Error
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the native error code name for native faults, otherwise one of
	// the ErrCode constants.
	Code string `json:"code,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Operation != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s (operation=%s): %s", e.Class, e.Message, e.Operation, e.Err)
		}
		return fmt.Sprintf("[%s] %s (operation=%s)", e.Class, e.Message, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewNativeFault wraps a failed native call. The native code, if err
// carries one, becomes the error code.
func NewNativeFault(operation string, err error) *EngineError {
	return &EngineError{
		Class:     ErrorClassNativeFault,
		Message:   "native call failed",
		Code:      native.CodeOf(err).String(),
		Operation: operation,
		Err:       err,
	}
}

// NewExhaustedError creates a resource exhausted error.
func NewExhaustedError(pool string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassResourceExhausted,
		Message: fmt.Sprintf("no free %s id", pool),
		Code:    ErrCodeExhausted,
		Err:     err,
	}
}

// NewMisuseError creates a resource misuse error.
func NewMisuseError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassResourceMisuse,
		Message: message,
		Code:    ErrCodeOutOfRange,
	}
}

// NewUnsupportedError creates an unsupported argument error.
func NewUnsupportedError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassUnsupported,
		Message: message,
		Code:    ErrCodeUnsupportedArgument,
	}
}

// NewConfigError creates an invalid configuration error.
func NewConfigError(err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInvalidConfig,
		Message: "invalid engine configuration",
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewClosedError creates an error for use after close.
func NewClosedError(message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassClosed,
		Message: message,
		Code:    ErrCodeClosed,
	}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsNativeFault returns true if the error is a native fault.
func IsNativeFault(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNativeFault
}

// IsResourceExhausted returns true if an identifier pool was exhausted.
func IsResourceExhausted(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassResourceExhausted
}

// IsResourceMisuse returns true if an identifier was misused.
func IsResourceMisuse(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassResourceMisuse
}

// IsUnsupported returns true if an argument could not be encoded.
func IsUnsupported(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnsupported
}

// IsClosed returns true if the engine or request was already closed.
func IsClosed(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassClosed
}

// ClassOf returns the error class, or "" when err is not an EngineError.
func ClassOf(err error) ErrorClass {
	c, _ := classOf(err)
	return c
}

// Common error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeExhausted           = "IDS_EXHAUSTED"
	ErrCodeOutOfRange          = "ID_OUT_OF_RANGE"
	ErrCodeUnsupportedArgument = "UNSUPPORTED_ARGUMENT"
	ErrCodeClosed              = "CLOSED"
	ErrCodeEncoding            = "ENCODING_ERROR"
)
