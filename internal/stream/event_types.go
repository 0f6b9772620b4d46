package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Chunk is one decoded event of a streamed message. The set of implementations
// is closed: MessageStart, ContentBlockStart, Ping, ContentBlockDelta,
// ContentBlockStop, MessageDelta and MessageStop.
type Chunk interface {
	Kind() Kind
	isChunk()
}

// MessageStart opens the message with a mostly empty snapshot of the response.
type MessageStart struct {
	Message MessageSnapshot `json:"message"`
}

// ContentBlockStart opens the content block at Index.
type ContentBlockStart struct {
	Index        uint32       `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// Ping is a liveness marker.
type Ping struct{}

// ContentBlockDelta carries an incremental fragment for the block at Index.
type ContentBlockDelta struct {
	Index uint32 `json:"index"`
	Delta Delta  `json:"delta"`
}

// ContentBlockStop closes the content block at Index.
type ContentBlockStop struct {
	Index uint32 `json:"index"`
}

// MessageDelta carries the stop information and the output token count.
type MessageDelta struct {
	Delta StopInfo   `json:"delta"`
	Usage DeltaUsage `json:"usage"`
}

// MessageStop ends the message.
type MessageStop struct{}

func (MessageStart) Kind() Kind      { return KindMessageStart }
func (ContentBlockStart) Kind() Kind { return KindContentBlockStart }
func (Ping) Kind() Kind              { return KindPing }
func (ContentBlockDelta) Kind() Kind { return KindContentBlockDelta }
func (ContentBlockStop) Kind() Kind  { return KindContentBlockStop }
func (MessageDelta) Kind() Kind      { return KindMessageDelta }
func (MessageStop) Kind() Kind       { return KindMessageStop }

func (MessageStart) isChunk()      {}
func (ContentBlockStart) isChunk() {}
func (Ping) isChunk()              {}
func (ContentBlockDelta) isChunk() {}
func (ContentBlockStop) isChunk()  {}
func (MessageDelta) isChunk()      {}
func (MessageStop) isChunk()       {}

// MessageSnapshot is the response envelope as known when the stream opens.
// Content is empty and the stop fields are null at that point.
type MessageSnapshot struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *StopReason    `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage is the token accounting of a message.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// StopInfo is only guaranteed to be populated in message_delta.
type StopInfo struct {
	StopReason   *StopReason `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
}

// DeltaUsage holds the output tokens observed so far.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
)

func (r *StopReason) UnmarshalText(text []byte) error {
	switch v := StopReason(text); v {
	case StopReasonEndTurn, StopReasonMaxTokens, StopReasonStopSequence, StopReasonToolUse:
		*r = v
		return nil
	default:
		return fmt.Errorf("unknown stop reason %q", v)
	}
}

type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock is either a text block or a tool_use block, selected by Type.
// Input holds the compacted tool input object; it is "{}" until the input
// deltas are assembled.
type ContentBlock struct {
	Type  BlockType
	Text  string
	ID    string
	Name  string
	Input json.RawMessage
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use block. A missing or null input becomes "{}"
// and any other input is compacted.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: CompactInput(input)}
}

// CompactInput normalizes a tool input document. Input that is not valid JSON
// is returned unchanged.
func CompactInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return input
	}
	return json.RawMessage(buf.Bytes())
}

type textBlockWire struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
}

type toolUseBlockWire struct {
	Type  BlockType       `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(textBlockWire{Type: b.Type, Text: b.Text})
	case BlockToolUse:
		return json.Marshal(toolUseBlockWire{Type: b.Type, ID: b.ID, Name: b.Name, Input: CompactInput(b.Input)})
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type  BlockType       `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch wire.Type {
	case BlockText:
		*b = TextBlock(wire.Text)
	case BlockToolUse:
		*b = ToolUseBlock(wire.ID, wire.Name, wire.Input)
	default:
		return fmt.Errorf("unknown content block type %q", wire.Type)
	}
	return nil
}

type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// Delta is either a text fragment or a fragment of the JSON-encoded tool
// input. PartialJSON fragments only parse once concatenated in full.
type Delta struct {
	Type        DeltaType
	Text        string
	PartialJSON string
}

func TextDelta(text string) Delta {
	return Delta{Type: DeltaText, Text: text}
}

func InputJSONDelta(partial string) Delta {
	return Delta{Type: DeltaInputJSON, PartialJSON: partial}
}

func (d Delta) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeltaText:
		return json.Marshal(struct {
			Type DeltaType `json:"type"`
			Text string    `json:"text"`
		}{d.Type, d.Text})
	case DeltaInputJSON:
		return json.Marshal(struct {
			Type        DeltaType `json:"type"`
			PartialJSON string    `json:"partial_json"`
		}{d.Type, d.PartialJSON})
	default:
		return nil, fmt.Errorf("unknown delta type %q", d.Type)
	}
}

func (d *Delta) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type        DeltaType `json:"type"`
		Text        string    `json:"text"`
		PartialJSON string    `json:"partial_json"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	switch wire.Type {
	case DeltaText:
		*d = TextDelta(wire.Text)
	case DeltaInputJSON:
		*d = InputJSONDelta(wire.PartialJSON)
	default:
		return fmt.Errorf("unknown delta type %q", wire.Type)
	}
	return nil
}
