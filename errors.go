package bitlog

import (
	"errors"
	"fmt"
	"syscall"

	"code.hybscloud.com/iox"
)

// Error is a structured bitlog error with operation context and errno
// mapping.
type Error struct {
	Op    string        // Operation that failed (e.g., "CREATE_QUEUE", "READ_CATALOG")
	Path  string        // Filesystem path involved ("" if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // OS errno (0 if not applicable)
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.Path != "" && e.Errno != 0:
		return fmt.Sprintf("bitlog: %s (op=%s path=%s errno=%d)", msg, e.Op, e.Path, int(e.Errno))
	case e.Path != "":
		return fmt.Sprintf("bitlog: %s (op=%s path=%s)", msg, e.Op, e.Path)
	case e.Op != "":
		return fmt.Sprintf("bitlog: %s (op=%s)", msg, e.Op)
	default:
		return fmt.Sprintf("bitlog: %s", msg)
	}
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches errors by category.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeIo              ErrorCode = "I/O error"
	ErrCodePath            ErrorCode = "shared-memory root unavailable"
	ErrCodeAlreadyExists   ErrorCode = "queue files already exist"
	ErrCodeNotReady        ErrorCode = "ready marker missing"
	ErrCodeCorruptMetadata ErrorCode = "corrupt metadata catalog"
	ErrCodeCorruptRecord   ErrorCode = "corrupt wire record"
	ErrCodeQueueFull       ErrorCode = "queue full"
	ErrCodeCreatorDead     ErrorCode = "creator process dead"
)

// ErrWouldBlock is the backpressure signal surfaced to queue policies
// when a write does not fit. It is a control-flow signal, not a
// failure, and is shared with the iox ecosystem convention.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates backpressure.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewPathError creates an error for a specific filesystem path
func NewPathError(op, path string, code ErrorCode, inner error) *Error {
	e := &Error{Op: op, Path: path, Code: code, Inner: inner}
	if inner != nil {
		e.Msg = inner.Error()
		var errno syscall.Errno
		if errors.As(inner, &errno) {
			e.Errno = errno
		}
	}
	return e
}

// WrapError wraps an existing error with bitlog context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if be, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Path:  be.Path,
			Code:  be.Code,
			Errno: be.Errno,
			Msg:   be.Msg,
			Inner: be.Inner,
		}
	}

	code := ErrCodeIo
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps syscall errno to bitlog error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR:
		return ErrCodePath
	case syscall.EEXIST:
		return ErrCodeAlreadyExists
	default:
		return ErrCodeIo
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Errno == errno
	}
	return false
}
