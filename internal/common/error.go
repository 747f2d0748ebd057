package common

import (
	"errors"
	"fmt"
	"strings"

	"faultcore/internal/diag"
)

// NoAddr marks an Error that is not tied to a memory or flash address.
const NoAddr = ^uint64(0)

// Error represents the library error object.
type Error struct {
	Code    diag.Err
	Sev     diag.ErrSeverity
	Addr    uint64
	Message string
}

func NewError(sev diag.ErrSeverity, code diag.Err) *Error {
	return &Error{
		Code: code,
		Sev:  sev,
		Addr: NoAddr,
	}
}

func NewErrorMsg(sev diag.ErrSeverity, code diag.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Addr:    NoAddr,
		Message: msg,
	}
}

func NewErrorWithAddr(sev diag.ErrSeverity, code diag.Err, addr uint32) *Error {
	return &Error{
		Code: code,
		Sev:  sev,
		Addr: uint64(addr),
	}
}

func NewErrorWithAddrMsg(sev diag.ErrSeverity, code diag.Err, addr uint32, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Addr:    uint64(addr),
		Message: msg,
	}
}

// Errorf is shorthand for an error-severity Error with a formatted message.
func Errorf(code diag.Err, format string, args ...any) *Error {
	return NewErrorMsg(diag.ErrSevError, code, fmt.Sprintf(format, args...))
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case diag.ErrSevNone:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	case diag.ErrSevError:
		sb.WriteString("ERROR:")
	case diag.ErrSevWarn:
		sb.WriteString("WARN :")
	case diag.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", uint32(e.Code)))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Addr != NoAddr {
		sb.WriteString(fmt.Sprintf("Addr=0x%08x; ", e.Addr))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// Unwrap exposes the result code so errors.Is(err, diag.ErrArg) matches.
func (e *Error) Unwrap() error {
	return e.Code
}

// CodeOf extracts the result code carried by err. A nil error is diag.OK and
// an error from outside the library is diag.ErrInternal.
func CodeOf(err error) diag.Err {
	if err == nil {
		return diag.OK
	}
	var code diag.Err
	if errors.As(err, &code) {
		return code
	}
	return diag.ErrInternal
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[diag.Err]errDesc{
	diag.OK:          {"MOD_OK", "No Error."},
	diag.ErrArg:      {"MOD_ERR_ARG", "Invalid argument: alignment or range."},
	diag.ErrBusy:     {"MOD_ERR_BUSY", "Peripheral operation already pending."},
	diag.ErrPeriph:   {"MOD_ERR_PERIPH", "Peripheral reported a failure."},
	diag.ErrInternal: {"MOD_ERR_INTERNAL", "Internal error: lookup miss or invalid instance."},
	diag.ErrBadCmd:   {"MOD_ERR_BAD_CMD", "Invalid command or command arguments."},
	diag.ErrState:    {"MOD_ERR_STATE", "Operation not valid in the current module state."},
	diag.ErrLast:     {"MOD_ERR_LAST", "No error - error code end marker"},
}

// Describe returns the symbolic name and description of code.
func Describe(code diag.Err) (name, msg string, ok bool) {
	d, ok := errorCodeDesc[code]
	return d.name, d.msg, ok
}
