package alpaca

import (
	"errors"

	"astrobridge/pkg/device"
)

// ASCOM error numbers carried in ErrorNumber.
const (
	CodeNotImplemented       = 0x400
	CodeInvalidValue         = 0x401
	CodeValueNotSet          = 0x402
	CodeNotConnected         = 0x407
	CodeInvalidWhileParked   = 0x408
	CodeInvalidWhileSlaved   = 0x409
	CodeInvalidOperation     = 0x40B
	CodeActionNotImplemented = 0x40C
	CodeUnspecified          = 0x4FF

	// Driver-specific errors occupy 0x500..0xFFF.
	codeDriverFirst = 0x500
	codeDriverLast  = 0xFFF
)

var codeKinds = map[int]error{
	CodeNotImplemented:       device.ErrNotImplemented,
	CodeInvalidValue:         device.ErrInvalidValue,
	CodeValueNotSet:          device.ErrValueNotSet,
	CodeNotConnected:         device.ErrNotConnected,
	CodeInvalidWhileParked:   device.ErrInvalidWhileParked,
	CodeInvalidWhileSlaved:   device.ErrInvalidWhileSlaved,
	CodeInvalidOperation:     device.ErrInvalidOperation,
	CodeActionNotImplemented: device.ErrActionNotImplemented,
	CodeUnspecified:          device.ErrUnspecified,
}

// KindForCode maps an ASCOM error number onto the error taxonomy. Unknown
// and driver-specific numbers map to device.ErrUnspecified.
func KindForCode(code int) error {
	if code == 0 {
		return nil
	}
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return device.ErrUnspecified
}

// CodeOf returns the ASCOM error number for err. A number preserved from
// the wire wins; otherwise the kind is mapped back to its canonical code.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	if c := device.CodeOf(err); c != 0 {
		return c
	}
	kind := device.KindOf(err)
	for code, k := range codeKinds {
		if k == kind {
			return code
		}
	}
	return CodeUnspecified
}

// IsDriverError reports whether code lies in the driver-specific range.
func IsDriverError(code int) bool {
	return code >= codeDriverFirst && code <= codeDriverLast
}

// ErrorFromResponse converts a failed response into a *device.Error that
// keeps the ASCOM error number. It returns nil for successful responses.
func ErrorFromResponse(r *Response) error {
	if r == nil {
		return &device.Error{Kind: device.ErrTransport, Code: CodeUnspecified, Message: "no response"}
	}
	if r.ErrorNumber == 0 {
		return nil
	}
	kind := KindForCode(r.ErrorNumber)
	if r.transport {
		kind = device.ErrTransport
	}
	msg := r.ErrorMessage
	if msg == "" {
		msg = kind.Error()
	}
	return &device.Error{Kind: kind, Code: r.ErrorNumber, Message: msg}
}

// IsTransportError reports whether err was produced locally because the
// server could not be reached or its reply could not be parsed.
func IsTransportError(err error) bool {
	return errors.Is(err, device.ErrTransport)
}
