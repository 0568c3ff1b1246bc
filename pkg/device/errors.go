package device

import (
	"errors"
	"fmt"
)

// Error kinds shared by both backends. Use errors.Is to test for them.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrInvalidValue         = errors.New("invalid value")
	ErrInvalidWhileParked   = errors.New("invalid while parked")
	ErrInvalidWhileSlaved   = errors.New("invalid while slaved")
	ErrInvalidOperation     = errors.New("invalid operation")
	ErrActionNotImplemented = errors.New("action not implemented")
	ErrNotImplemented       = errors.New("property or method not implemented")
	ErrValueNotSet          = errors.New("value not set")
	ErrTransport            = errors.New("transport error")
	ErrTimeout              = errors.New("timeout")
	ErrUnspecified          = errors.New("unspecified error")
)

var errorKinds = []error{
	ErrNotConnected,
	ErrInvalidValue,
	ErrInvalidWhileParked,
	ErrInvalidWhileSlaved,
	ErrInvalidOperation,
	ErrActionNotImplemented,
	ErrNotImplemented,
	ErrValueNotSet,
	ErrTransport,
	ErrTimeout,
	ErrUnspecified,
}

// Error carries an error kind together with the context it happened in.
// Code holds the ASCOM error number when the error came from an Alpaca
// server, and zero otherwise.
type Error struct {
	Kind     error  `json:"-"`
	Code     int    `json:"code,omitempty"`
	Device   string `json:"device,omitempty"`
	Property string `json:"property,omitempty"`
	Message  string `json:"message"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case e.Device != "" && e.Property != "":
		return fmt.Sprintf("%s.%s: %s", e.Device, e.Property, msg)
	case e.Device != "":
		return fmt.Sprintf("%s: %s", e.Device, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind of err, ErrUnspecified for foreign errors
// and nil for nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnspecified
}

// CodeOf returns the backend error number attached to err, if any.
func CodeOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}

// KindName is the stable textual name of an error kind, used in events.
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		return ""
	case ErrNotConnected:
		return "NotConnected"
	case ErrInvalidValue:
		return "InvalidValue"
	case ErrInvalidWhileParked:
		return "InvalidWhileParked"
	case ErrInvalidWhileSlaved:
		return "InvalidWhileSlaved"
	case ErrInvalidOperation:
		return "InvalidOperation"
	case ErrActionNotImplemented:
		return "ActionNotImplemented"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrValueNotSet:
		return "ValueNotSet"
	case ErrTransport:
		return "TransportError"
	case ErrTimeout:
		return "Timeout"
	}
	return "UnspecifiedError"
}

func withContext(err error, dev, prop string) error {
	var de *Error
	if errors.As(err, &de) {
		cp := *de
		if cp.Device == "" {
			cp.Device = dev
		}
		if cp.Property == "" {
			cp.Property = prop
		}
		return &cp
	}
	return &Error{Kind: KindOf(err), Device: dev, Property: prop, Message: err.Error()}
}
