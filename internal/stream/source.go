package stream

import (
	"context"
	"io"
)

// DefaultReadSize is the fragment size used by NewReaderSource when none is given.
const DefaultReadSize = 32 * 1024

// Source yields the ordered byte fragments of a response body. Next returns
// io.EOF once no more fragments will arrive. The returned slice is only
// valid until the following call.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// ReaderSource reads fragments from an io.Reader such as an HTTP response body.
type ReaderSource struct {
	r   io.Reader
	buf []byte
	err error
}

// NewReaderSource wraps r, reading at most size bytes per fragment.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultReadSize
	}
	return &ReaderSource{r: r, buf: make([]byte, size)}
}

// Next returns the next fragment. Data read together with an error is
// returned first; the error is reported on the following call.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.r.Read(s.buf)
		if err != nil {
			s.err = err
		}
		if n > 0 {
			return s.buf[:n], nil
		}
	}
}

// Close closes the underlying reader if it is an io.Closer.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SliceSource replays a fixed list of fragments, then reports io.EOF.
type SliceSource struct {
	fragments [][]byte
}

func NewSliceSource(fragments ...[]byte) *SliceSource {
	return &SliceSource{fragments: fragments}
}

// StringSource is a convenience for NewSliceSource over string fragments.
func StringSource(fragments ...string) *SliceSource {
	bs := make([][]byte, len(fragments))
	for i, f := range fragments {
		bs[i] = []byte(f)
	}
	return NewSliceSource(bs...)
}

func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.fragments) == 0 {
		return nil, io.EOF
	}
	next := s.fragments[0]
	s.fragments = s.fragments[1:]
	return next, nil
}
