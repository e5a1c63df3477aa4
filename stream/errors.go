package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies stream failures for the control plane.
type ErrorKind int

const (
	// KindOpen means the endpoint could not be constructed.
	KindOpen ErrorKind = iota

	// KindIO is a mid-stream read or write failure.
	KindIO

	// KindEnd is nominal end of input (file exhausted).
	KindEnd

	// KindClosed is a read on the Null sentinel endpoint.
	KindClosed

	// KindTimeout is a read deadline expiry on a network endpoint; the
	// caller should retry.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindOpen:
		return "Open"
	case KindIO:
		return "Io"
	case KindEnd:
		return "StreamEnd"
	case KindClosed:
		return "StreamClosed"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Err carries a failure classification alongside the underlying error.
type Err struct {
	Kind ErrorKind
	Err  error
}

func (e Err) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stream error (%s)", e.Kind)
	}
	return fmt.Sprintf("stream error (%s): %v", e.Kind, e.Err)
}

func (e Err) Unwrap() error {
	return e.Err
}

func openErr(err error, format string, args ...interface{}) error {
	return Err{Kind: KindOpen, Err: errors.Wrapf(err, format, args...)}
}

func ioErr(err error, format string, args ...interface{}) error {
	return Err{Kind: KindIO, Err: errors.Wrapf(err, format, args...)}
}

// KindOf classifies err, defaulting to KindIO for plain errors.
func KindOf(err error) ErrorKind {
	var se Err
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIO
}

// IsEnd reports whether err is a nominal end-of-stream.
func IsEnd(err error) bool {
	return KindOf(err) == KindEnd
}

// IsTimeout reports whether err is a retryable read-deadline expiry.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}
