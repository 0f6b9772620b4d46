package stream

// conversation is a complete text response as sent by the Messages API.
const conversation = `event: message_start
data: {"type": "message_start", "message": {"id": "msg_1nZdL29xx5MUA1yADyHTEsnR8uuvGzszyY", "type": "message", "role": "assistant", "content": [], "model": "claude-3-opus-20240229", "stop_reason": null, "stop_sequence": null, "usage": {"input_tokens": 25, "output_tokens": 1}}}

event: content_block_start
data: {"type": "content_block_start", "index": 0, "content_block": {"type": "text", "text": ""}}

event: ping
data: {"type": "ping"}

event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "Hello"}}

event: content_block_delta
data: {"type": "content_block_delta", "index": 0, "delta": {"type": "text_delta", "text": "!"}}

event: content_block_stop
data: {"type": "content_block_stop", "index": 0}

event: message_delta
data: {"type": "message_delta", "delta": {"stop_reason": "end_turn", "stop_sequence": null}, "usage": {"output_tokens": 15}}

event: message_stop
data: {"type": "message_stop"}

`

func stopReason(r StopReason) *StopReason { return &r }

func conversationChunks() []Chunk {
	return []Chunk{
		MessageStart{Message: MessageSnapshot{
			ID:      "msg_1nZdL29xx5MUA1yADyHTEsnR8uuvGzszyY",
			Type:    "message",
			Role:    "assistant",
			Content: []ContentBlock{},
			Model:   "claude-3-opus-20240229",
			Usage:   Usage{InputTokens: 25, OutputTokens: 1},
		}},
		ContentBlockStart{Index: 0, ContentBlock: TextBlock("")},
		Ping{},
		ContentBlockDelta{Index: 0, Delta: TextDelta("Hello")},
		ContentBlockDelta{Index: 0, Delta: TextDelta("!")},
		ContentBlockStop{Index: 0},
		MessageDelta{
			Delta: StopInfo{StopReason: stopReason(StopReasonEndTurn)},
			Usage: DeltaUsage{OutputTokens: 15},
		},
		MessageStop{},
	}
}
