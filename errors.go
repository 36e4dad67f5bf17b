package canwrap

import (
	"errors"
	"fmt"
)

// Every error returned by this library maps to an int32 code.
// Zero is success, negative codes are errors and positive codes are warnings.
type codedError struct {
	code int32
	msg  string
}

func (e *codedError) Error() string {
	return e.msg
}

func newError(code int32, msg string) error {
	err := &codedError{code: code, msg: msg}
	descriptions[code] = msg
	return err
}

var descriptions = map[int32]string{0: "operation completed successfully"}

var (
	ErrIllegalArgument = newError(-1, "error in function arguments")
	ErrInvalidHandle   = newError(-2, "invalid channel handle")
	ErrChannelNotFound = newError(-3, "channel not found")
	ErrNotOpen         = newError(-4, "channel is not open")
	ErrAlreadyOpen     = newError(-5, "channel is already open")
	ErrNotSupported    = newError(-6, "operation not supported by channel")
	ErrTimeout         = newError(-7, "function timeout")
	ErrNoMessage       = newError(-8, "no message available")
	ErrTxBusy          = newError(-9, "sending rejected because driver is busy. Try again")
	ErrListenOnly      = newError(-10, "channel is in listen only mode")
	ErrBufferTooSmall  = newError(-11, "output buffer too small")
	ErrBackend         = newError(-12, "backend error")
	ErrClosed          = newError(-13, "channel closed")
	ErrIllegalBaudrate = newError(-14, "illegal baudrate passed to function")
	ErrInvalidFrame    = newError(-15, "invalid frame")
	ErrSettingsStore   = newError(-16, "settings could not be stored")
)

// Warnings
var (
	ErrRxOverflow      = newError(1, "receive queue overflow, frames were dropped")
	ErrTruncated       = newError(2, "output was truncated")
	ErrAlreadyAcquired = newError(3, "channel already acquired, returning existing handle")
	ErrPendingSettings = newError(4, "settings changed but not applied")
)

// Code returns the status code of err, 0 for nil.
// Errors that don't wrap a library error are reported as [ErrBackend].
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return ErrBackend.(*codedError).code
}

// IsWarning returns true if err is non fatal
func IsWarning(err error) bool {
	return Code(err) > 0
}

// Describe returns a human readable description for a status code
func Describe(code int32) string {
	desc, ok := descriptions[code]
	if ok {
		return desc
	}
	return fmt.Sprintf("unknown error code (%d)", code)
}

// Wrap a backend error so that it carries the [ErrBackend] code
func BackendError(err error) error {
	if err == nil {
		return nil
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}
