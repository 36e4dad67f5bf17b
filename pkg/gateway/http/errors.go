package http

import (
	"fmt"

	canwrap "github.com/samsamfire/gocanwrap"
)

// Gateway specific errors, outside of the library status codes
var (
	ErrGwRequestNotSupported = &GatewayError{Code: 100}
	ErrGwSyntaxError         = &GatewayError{Code: 101}
)

var ERROR_GATEWAY_DESCRIPTION_MAP = map[int32]string{
	100: "Request not supported",
	101: "Syntax error",
}

// A GatewayError carries either a library status code (negative error,
// positive warning) or a gateway code (>= 100)
type GatewayError struct {
	Code int32
}

func NewGatewayError(code int32) error {
	return &GatewayError{Code: code}
}

// Gateway error for any library error
func fromError(err error) *GatewayError {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr
	}
	return &GatewayError{Code: canwrap.Code(err)}
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("ERROR:%d", e.Code)
}

func (e *GatewayError) Description() string {
	if desc, ok := ERROR_GATEWAY_DESCRIPTION_MAP[e.Code]; ok {
		return desc
	}
	return canwrap.Describe(e.Code)
}

// Is allows errors.Is against the library errors with the same code
func (e *GatewayError) Is(target error) bool {
	if other, ok := target.(*GatewayError); ok {
		return other.Code == e.Code
	}
	return e.Code < 100 && canwrap.Code(target) == e.Code
}
