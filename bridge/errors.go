package bridge

import "fmt"

// ErrorCode is one of the stable, numbered error kinds the bridge and its
// observers exchange. The numbering is part of the public contract:
// callers across the host boundary switch on the code, not on the
// message.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota
	ErrAdapterDisabled
	ErrAdapterUnauthorized
	ErrAdapterNotSupported
	ErrAdapterBusy
	ErrProtocolViolation
	ErrNotConnected
	ErrNotConnectable
	ErrConnectionTimeout
	ErrStreamNotOpen
)

func (c ErrorCode) String() string {
	switch c {
	case ErrUnknown:
		return "Unknown"
	case ErrAdapterDisabled:
		return "AdapterDisabled"
	case ErrAdapterUnauthorized:
		return "AdapterUnauthorized"
	case ErrAdapterNotSupported:
		return "AdapterNotSupported"
	case ErrAdapterBusy:
		return "AdapterBusy"
	case ErrProtocolViolation:
		return "ProtocolViolation"
	case ErrNotConnected:
		return "NotConnected"
	case ErrNotConnectable:
		return "NotConnectable"
	case ErrConnectionTimeout:
		return "ConnectionTimeout"
	case ErrStreamNotOpen:
		return "StreamNotOpen"
	default:
		return "ErrorCode(unknown)"
	}
}

// Error is the bridge's wrapped-error type: a stable code plus whatever
// underlying cause produced it. Error()/Unwrap() let callers either log
// the message or errors.Is/As through to the cause.
type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("bridge: %s: %v", e.Code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf builds an *Error of the given code, wrapping a formatted cause.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, cause: fmt.Errorf(format, args...)}
}

// WrapError builds an *Error of the given code around an existing error,
// or returns nil if err is nil.
func WrapError(code ErrorCode, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, cause: err}
}
