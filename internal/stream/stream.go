package stream

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/rs/zerolog"
)

// Stream is a single-pass, pull-based sequence of chunks decoded from a
// Source. It is not safe for concurrent use.
type Stream struct {
	src       Source
	framer    Framer
	exhausted bool
	done      bool
	logger    zerolog.Logger
	decoded   int
}

type Option func(*Stream)

// WithLogger sets the logger used for debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

func New(src Source, opts ...Option) *Stream {
	s := &Stream{
		src:    src,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next chunk. It returns io.EOF once the sequence is
// exhausted. Any other error is terminal: later calls return io.EOF.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	if s.done {
		return nil, io.EOF
	}

	chunk, err := s.next(ctx)
	if err != nil {
		s.finish()
		if !errors.Is(err, io.EOF) {
			s.logger.Debug().Err(err).Int("chunks", s.decoded).Msg("stream terminated")
		}
		return nil, err
	}
	s.decoded++
	return chunk, nil
}

func (s *Stream) next(ctx context.Context) (Chunk, error) {
	for {
		if frame, ok := s.framer.Next(); ok {
			return ParseFrame(frame)
		}

		if s.exhausted {
			frame, ok := s.framer.Flush()
			if !ok {
				return nil, io.EOF
			}
			return ParseFrame(frame)
		}

		fragment, err := s.src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			s.framer.Write(fragment)
			s.exhausted = true
		case err != nil:
			return nil, &TransportError{Err: err}
		default:
			s.framer.Write(fragment)
		}
	}
}

// All returns the remaining chunks as a range-over-func sequence. Iteration
// stops after the first error, which is yielded with a nil chunk.
func (s *Stream) All(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the buffer and closes the source if it is an io.Closer.
func (s *Stream) Close() error {
	s.finish()
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Stream) finish() {
	s.done = true
	s.framer.Reset()
}
