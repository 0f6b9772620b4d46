package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/namikmesic/sidekick/internal/stream"
)

var (
	// ErrOutOfOrder is returned when a chunk violates the message lifecycle.
	ErrOutOfOrder = errors.New("chunk out of order")
	// ErrInvalidToolInput is returned when the concatenated input deltas of a
	// tool_use block are not a JSON document.
	ErrInvalidToolInput = errors.New("invalid tool input")
)

// Message is a response folded from its stream of chunks.
type Message struct {
	ID           string
	Model        string
	Role         string
	Content      []stream.ContentBlock
	StopReason   *stream.StopReason
	StopSequence *string
	Usage        stream.Usage
}

// Text returns the concatenated text of all text blocks.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == stream.BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool_use blocks in order.
func (m Message) ToolUses() []stream.ContentBlock {
	var uses []stream.ContentBlock
	for _, block := range m.Content {
		if block.Type == stream.BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

type openBlock struct {
	pos   int
	input strings.Builder
}

// Assembler folds chunks into a Message, enforcing
// message_start → (block start → deltas → block stop)* → message_delta → message_stop
// with pings allowed anywhere after message_start.
type Assembler struct {
	msg     Message
	started bool
	stopped bool
	open    map[uint32]*openBlock
	// pos maps every started block index to its position in msg.Content.
	pos map[uint32]int
}

func NewAssembler() *Assembler {
	return &Assembler{
		open: make(map[uint32]*openBlock),
		pos:  make(map[uint32]int),
	}
}

// Add applies one chunk.
func (a *Assembler) Add(c stream.Chunk) error {
	if a.stopped {
		return fmt.Errorf("%w: %s after message_stop", ErrOutOfOrder, c.Kind())
	}
	if !a.started {
		if _, ok := c.(stream.MessageStart); !ok {
			return fmt.Errorf("%w: %s before message_start", ErrOutOfOrder, c.Kind())
		}
	}

	switch c := c.(type) {
	case stream.MessageStart:
		if a.started {
			return fmt.Errorf("%w: second message_start", ErrOutOfOrder)
		}
		a.started = true
		a.msg = Message{
			ID:           c.Message.ID,
			Model:        c.Message.Model,
			Role:         c.Message.Role,
			Content:      append([]stream.ContentBlock(nil), c.Message.Content...),
			StopReason:   c.Message.StopReason,
			StopSequence: c.Message.StopSequence,
			Usage:        c.Message.Usage,
		}
	case stream.ContentBlockStart:
		if _, ok := a.pos[c.Index]; ok {
			return fmt.Errorf("%w: content block %d started twice", ErrOutOfOrder, c.Index)
		}
		a.pos[c.Index] = len(a.msg.Content)
		a.open[c.Index] = &openBlock{pos: len(a.msg.Content)}
		a.msg.Content = append(a.msg.Content, c.ContentBlock)
	case stream.ContentBlockDelta:
		return a.applyDelta(c)
	case stream.ContentBlockStop:
		return a.closeBlock(c.Index)
	case stream.Ping:
	case stream.MessageDelta:
		a.msg.StopReason = c.Delta.StopReason
		a.msg.StopSequence = c.Delta.StopSequence
		a.msg.Usage.OutputTokens = c.Usage.OutputTokens
	case stream.MessageStop:
		if len(a.open) > 0 {
			return fmt.Errorf("%w: message_stop with %d open content blocks", ErrOutOfOrder, len(a.open))
		}
		a.stopped = true
	}
	return nil
}

func (a *Assembler) applyDelta(c stream.ContentBlockDelta) error {
	ob, ok := a.open[c.Index]
	if !ok {
		return fmt.Errorf("%w: delta for content block %d which is not open", ErrOutOfOrder, c.Index)
	}
	block := &a.msg.Content[ob.pos]

	switch {
	case c.Delta.Type == stream.DeltaText && block.Type == stream.BlockText:
		block.Text += c.Delta.Text
	case c.Delta.Type == stream.DeltaInputJSON && block.Type == stream.BlockToolUse:
		ob.input.WriteString(c.Delta.PartialJSON)
	default:
		return fmt.Errorf("%w: %s delta for %s block %d", ErrOutOfOrder, c.Delta.Type, block.Type, c.Index)
	}
	return nil
}

func (a *Assembler) closeBlock(index uint32) error {
	ob, ok := a.open[index]
	if !ok {
		return fmt.Errorf("%w: stop for content block %d which is not open", ErrOutOfOrder, index)
	}
	delete(a.open, index)

	block := &a.msg.Content[ob.pos]
	if block.Type != stream.BlockToolUse {
		return nil
	}

	raw := ob.input.String()
	if raw == "" {
		block.Input = stream.CompactInput(block.Input)
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return fmt.Errorf("%w: content block %d: %q", ErrInvalidToolInput, index, raw)
	}
	block.Input = stream.CompactInput(json.RawMessage(raw))
	return nil
}

// Block returns the content block started with the given wire index.
func (a *Assembler) Block(index uint32) (stream.ContentBlock, bool) {
	pos, ok := a.pos[index]
	if !ok {
		return stream.ContentBlock{}, false
	}
	return a.msg.Content[pos], true
}

// Done reports whether message_stop has been applied.
func (a *Assembler) Done() bool {
	return a.stopped
}

// Message returns the message assembled so far.
func (a *Assembler) Message() Message {
	msg := a.msg
	msg.Content = append([]stream.ContentBlock(nil), a.msg.Content...)
	return msg
}

// Collect drains s into a Message. On error the partially assembled message
// is returned alongside it.
func Collect(ctx context.Context, s *stream.Stream) (Message, error) {
	a := NewAssembler()
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return a.Message(), err
		}
		if err := a.Add(chunk); err != nil {
			return a.Message(), err
		}
	}

	if !a.Done() {
		return a.Message(), fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF)
	}
	return a.Message(), nil
}
