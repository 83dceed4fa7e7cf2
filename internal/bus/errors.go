// internal/bus/errors.go
package bus

import "errors"

// Code is a stable result code shared by every bus-facing operation.
// It implements error so codes can be returned and wrapped directly.
type Code int

const (
	OK Code = iota
	Fail
	Timeout
	NotSupported
	NoMemory
	NotFound
)

// Sentinel errors for use with errors.Is.
var (
	ErrFail         error = Fail
	ErrTimeout      error = Timeout
	ErrNotSupported error = NotSupported
	ErrNoMemory     error = NoMemory
	ErrNotFound     error = NotFound
)

func (c Code) Error() string {
	return "maus-bus: " + c.String()
}

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Fail:
		return "fail"
	case Timeout:
		return "timeout"
	case NotSupported:
		return "not supported"
	case NoMemory:
		return "no memory"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// CodeOf extracts a Code from err, looking through wrapping.
// Errors that carry no code map to Fail.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Fail
}
