package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	eventPrefix = "event: "
	dataPrefix  = "data: "
)

// ParseFrame decodes one complete frame: an "event: " line naming the kind
// followed by a "data: " line holding its JSON payload. Blank lines are
// ignored. A frame yields exactly one chunk or exactly one error.
func ParseFrame(frame string) (Chunk, error) {
	if !utf8.ValidString(frame) {
		return nil, &FrameShapeError{Frame: frame, Err: ErrInvalidUTF8}
	}

	lines := frameLines(frame)
	if len(lines) != 2 {
		return nil, &FrameShapeError{Frame: frame, Lines: len(lines)}
	}

	name, ok := strings.CutPrefix(lines[0], eventPrefix)
	if !ok {
		return nil, &FramePrefixError{Frame: frame, Line: lines[0], Prefix: eventPrefix}
	}
	data, ok := strings.CutPrefix(lines[1], dataPrefix)
	if !ok {
		return nil, &FramePrefixError{Frame: frame, Line: lines[1], Prefix: dataPrefix}
	}

	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}

	chunk, err := decodePayload(kind, []byte(data))
	if err != nil {
		return nil, &PayloadDecodeError{Kind: kind, Data: data, Err: err}
	}
	return chunk, nil
}

// frameLines splits a frame into its non-blank lines, tolerating CRLF endings.
func frameLines(frame string) []string {
	var lines []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func decodePayload(kind Kind, data []byte) (Chunk, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if head.Type != kind.String() {
		return nil, fmt.Errorf("payload type %q does not match event %q", head.Type, kind)
	}

	switch kind {
	case KindMessageStart:
		return decodeAs[MessageStart](data)
	case KindContentBlockStart:
		return decodeAs[ContentBlockStart](data)
	case KindPing:
		return decodeAs[Ping](data)
	case KindContentBlockDelta:
		return decodeAs[ContentBlockDelta](data)
	case KindContentBlockStop:
		return decodeAs[ContentBlockStop](data)
	case KindMessageDelta:
		return decodeAs[MessageDelta](data)
	case KindMessageStop:
		return decodeAs[MessageStop](data)
	default:
		return nil, &UnknownKindError{Name: kind.String()}
	}
}

func decodeAs[T Chunk](data []byte) (Chunk, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode renders a chunk as its wire frame, including the blank line that
// terminates it. The payload's "type" field comes first.
func Encode(c Chunk) (string, error) {
	kind := c.Kind()
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}

	var b strings.Builder
	b.Grow(len(body) + 64)
	b.WriteString(eventPrefix)
	b.WriteString(kind.String())
	b.WriteString("\n")
	b.WriteString(dataPrefix)
	b.WriteString(`{"type":"`)
	b.WriteString(kind.String())
	b.WriteString(`"`)
	if len(body) > 2 {
		b.WriteString(",")
		b.Write(body[1:])
	} else {
		b.WriteString("}")
	}
	b.WriteString("\n\n")
	return b.String(), nil
}
