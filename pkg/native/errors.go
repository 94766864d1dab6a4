package native

import (
	"errors"
	"fmt"
)

// ErrorCode is the engine's native error code. Zero means success.
type ErrorCode int32

// Native error codes, in the order of the engine's Methcla_ErrorCode enum.
const (
	NoError ErrorCode = iota
	UnspecifiedError
	LogicError
	ArgumentError
	MemoryError
	UnimplementedError
	SystemError
	AudioDriverInitializationError
	AudioDriverStartError
	AudioDriverStopError
	FileNotFoundError
	FileExistsError
	PermissionsError
	UnsupportedFileTypeError
	UnsupportedDataFormatError
	InvalidFileError
)

var codeNames = []string{
	"no_error",
	"unspecified",
	"logic",
	"argument",
	"memory",
	"unimplemented",
	"system",
	"audio_driver_initialization",
	"audio_driver_start",
	"audio_driver_stop",
	"file_not_found",
	"file_exists",
	"permissions",
	"unsupported_file_type",
	"unsupported_data_format",
	"invalid_file",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code_%d", int32(c))
}

// Error is a failed native call: the engine's code and its message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("native error %d (%s)", int32(e.Code), e.Code)
	}
	return fmt.Sprintf("native error %d (%s): %s", int32(e.Code), e.Code, e.Message)
}

// Check converts a native (code, message) pair into an error. It returns
// nil iff code is NoError.
func Check(code ErrorCode, message string) error {
	if code == NoError {
		return nil
	}
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the native code from err, or UnspecifiedError if err does
// not carry one. It returns NoError for a nil err.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var nerr *Error
	if errors.As(err, &nerr) {
		return nerr.Code
	}
	return UnspecifiedError
}
