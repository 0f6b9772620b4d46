package stream

import (
	"errors"
	"fmt"
)

// ErrInvalidUTF8 is wrapped by FrameShapeError when a frame is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("frame is not valid UTF-8")

// TransportError reports a failure of the underlying byte source.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FrameShapeError reports a frame that does not hold exactly two non-blank lines.
type FrameShapeError struct {
	Frame string
	Lines int
	Err   error
}

func (e *FrameShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %v: %q", e.Err, e.Frame)
	}
	return fmt.Sprintf("malformed frame: want 2 lines, got %d: %q", e.Lines, e.Frame)
}

func (e *FrameShapeError) Unwrap() error { return e.Err }

// FramePrefixError reports a frame line missing its "event: " or "data: " prefix.
type FramePrefixError struct {
	Frame  string
	Line   string
	Prefix string
}

func (e *FramePrefixError) Error() string {
	return fmt.Sprintf("malformed frame: line %q must start with %q", e.Line, e.Prefix)
}

// UnknownKindError reports an event name outside the registry.
type UnknownKindError struct {
	Name string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown chunk kind %q", e.Name)
}

// PayloadDecodeError reports a data payload that does not fit its kind's shape.
// Data holds the raw payload text.
type PayloadDecodeError struct {
	Kind Kind
	Data string
	Err  error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v: %s", e.Kind, e.Err, e.Data)
}

func (e *PayloadDecodeError) Unwrap() error { return e.Err }
