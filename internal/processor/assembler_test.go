package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/stream"
)

const toolConversation = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_02","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":40,"output_tokens":1,"cache_read_input_tokens":12}}}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n" +
	"event: ping\n" +
	`data: {"type":"ping"}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"check."}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":0}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{}}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\": "}}` + "\n\n" +
	"event: content_block_delta\n" +
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}` + "\n\n" +
	"event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":1}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":25}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

func messageStart() stream.MessageStart {
	return stream.MessageStart{Message: stream.MessageSnapshot{
		ID:      "msg_01",
		Type:    "message",
		Role:    "assistant",
		Content: []stream.ContentBlock{},
		Model:   "claude-3-haiku-20240307",
		Usage:   stream.Usage{InputTokens: 10, OutputTokens: 1},
	}}
}

var _ = Describe("Assembler", func() {
	var a *processor.Assembler

	BeforeEach(func() {
		a = processor.NewAssembler()
	})

	Describe("Add", func() {
		Context("before message_start", func() {
			It("rejects every other chunk", func() {
				Expect(a.Add(stream.Ping{})).To(MatchError(processor.ErrOutOfOrder))
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(MatchError(processor.ErrOutOfOrder))
			})
		})

		Context("after message_start", func() {
			BeforeEach(func() {
				Expect(a.Add(messageStart())).To(Succeed())
			})

			It("copies the snapshot", func() {
				msg := a.Message()
				Expect(msg.ID).To(Equal("msg_01"))
				Expect(msg.Model).To(Equal("claude-3-haiku-20240307"))
				Expect(msg.Usage.InputTokens).To(Equal(10))
				Expect(a.Done()).To(BeFalse())
			})

			It("rejects a second message_start", func() {
				Expect(a.Add(messageStart())).To(MatchError(processor.ErrOutOfOrder))
			})

			It("accepts pings anywhere", func() {
				Expect(a.Add(stream.Ping{})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.Ping{})).To(Succeed())
			})

			It("concatenates text deltas", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.TextDelta("Hello")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.TextDelta(", world")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(Succeed())

				Expect(a.Message().Text()).To(Equal("Hello, world"))
			})

			It("rejects deltas for blocks that are not open", func() {
				Expect(a.Add(stream.ContentBlockDelta{Index: 3, Delta: stream.TextDelta("x")})).To(MatchError(processor.ErrOutOfOrder))

				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.TextDelta("x")})).To(MatchError(processor.ErrOutOfOrder))
			})

			It("rejects a block index started twice", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(MatchError(processor.ErrOutOfOrder))
			})

			It("rejects a delta of the wrong type for the block", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.InputJSONDelta("{}")})).To(MatchError(processor.ErrOutOfOrder))
			})

			It("parses tool input once the block stops", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.ToolUseBlock("toolu_1", "lookup", json.RawMessage(`{}`))})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.InputJSONDelta(`{"q":`)})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.InputJSONDelta(`"go"}`)})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(Succeed())

				uses := a.Message().ToolUses()
				Expect(uses).To(HaveLen(1))
				Expect(uses[0].Name).To(Equal("lookup"))
				Expect(string(uses[0].Input)).To(MatchJSON(`{"q":"go"}`))
			})

			It("defaults empty tool input to an empty object", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.ToolUseBlock("toolu_1", "now", nil)})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(Succeed())

				Expect(string(a.Message().Content[0].Input)).To(Equal("{}"))
			})

			It("rejects tool input that is not JSON", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.ToolUseBlock("toolu_1", "lookup", nil)})).To(Succeed())
				Expect(a.Add(stream.ContentBlockDelta{Index: 0, Delta: stream.InputJSONDelta(`{"q":`)})).To(Succeed())
				Expect(a.Add(stream.ContentBlockStop{Index: 0})).To(MatchError(processor.ErrInvalidToolInput))
			})

			It("applies message_delta", func() {
				reason := stream.StopReasonMaxTokens
				Expect(a.Add(stream.MessageDelta{Delta: stream.StopInfo{StopReason: &reason}, Usage: stream.DeltaUsage{OutputTokens: 99}})).To(Succeed())

				msg := a.Message()
				Expect(msg.StopReason).To(HaveValue(Equal(stream.StopReasonMaxTokens)))
				Expect(msg.Usage.OutputTokens).To(Equal(99))
				Expect(msg.Usage.InputTokens).To(Equal(10))
			})

			It("refuses message_stop while a block is open", func() {
				Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("")})).To(Succeed())
				Expect(a.Add(stream.MessageStop{})).To(MatchError(processor.ErrOutOfOrder))
			})

			It("rejects everything after message_stop", func() {
				Expect(a.Add(stream.MessageStop{})).To(Succeed())
				Expect(a.Done()).To(BeTrue())
				Expect(a.Add(stream.Ping{})).To(MatchError(processor.ErrOutOfOrder))
			})
		})
	})

	Describe("Block", func() {
		It("finds blocks by wire index, not position", func() {
			start := messageStart()
			start.Message.Content = []stream.ContentBlock{stream.TextBlock("prefilled")}
			Expect(a.Add(start)).To(Succeed())

			Expect(a.Add(stream.ContentBlockStart{Index: 5, ContentBlock: stream.ToolUseBlock("toolu_1", "lookup", nil)})).To(Succeed())
			Expect(a.Add(stream.ContentBlockDelta{Index: 5, Delta: stream.InputJSONDelta(`{"q": "go"}`)})).To(Succeed())
			Expect(a.Add(stream.ContentBlockStop{Index: 5})).To(Succeed())

			block, ok := a.Block(5)
			Expect(ok).To(BeTrue())
			Expect(block.Name).To(Equal("lookup"))
			Expect(string(block.Input)).To(Equal(`{"q":"go"}`))

			_, ok = a.Block(0)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Message", func() {
		It("returns a copy of the content", func() {
			Expect(a.Add(messageStart())).To(Succeed())
			Expect(a.Add(stream.ContentBlockStart{Index: 0, ContentBlock: stream.TextBlock("a")})).To(Succeed())

			msg := a.Message()
			msg.Content[0].Text = "changed"
			Expect(a.Message().Content[0].Text).To(Equal("a"))
		})
	})
})

var _ = Describe("Collect", func() {
	It("folds a complete tool-use response", func() {
		msg, err := processor.Collect(context.Background(), stream.New(stream.StringSource(toolConversation)))
		Expect(err).NotTo(HaveOccurred())

		Expect(msg.ID).To(Equal("msg_02"))
		Expect(msg.Text()).To(Equal("Let me check."))
		Expect(msg.StopReason).To(HaveValue(Equal(stream.StopReasonToolUse)))
		Expect(msg.Usage).To(Equal(stream.Usage{InputTokens: 40, OutputTokens: 25, CacheReadInputTokens: 12}))

		uses := msg.ToolUses()
		Expect(uses).To(HaveLen(1))
		Expect(uses[0].ID).To(Equal("toolu_01"))
		Expect(string(uses[0].Input)).To(MatchJSON(`{"city":"Paris"}`))
	})

	It("gives the same message for any fragmentation", func() {
		want, err := processor.Collect(context.Background(), stream.New(stream.StringSource(toolConversation)))
		Expect(err).NotTo(HaveOccurred())

		for _, size := range []int{1, 7, 64} {
			src := stream.NewReaderSource(&chunkedReader{data: []byte(toolConversation), size: size}, size)
			got, err := processor.Collect(context.Background(), stream.New(src))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		}
	})

	It("reports a stream that ends before message_stop", func() {
		truncated := toolConversation[:len(toolConversation)-len("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")]

		msg, err := processor.Collect(context.Background(), stream.New(stream.StringSource(truncated)))
		Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		Expect(msg.Text()).To(Equal("Let me check."))
	})

	It("returns the partial message with a decode error", func() {
		src := stream.StringSource(
			"event: message_start\n"+`data: {"type":"message_start","message":{"id":"msg_03","type":"message","role":"assistant","content":[],"model":"m","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`+"\n\n",
			"event: content_block_citation\ndata: {\"type\":\"content_block_citation\"}\n\n",
		)

		msg, err := processor.Collect(context.Background(), stream.New(src))
		var unknown *stream.UnknownKindError
		Expect(errors.As(err, &unknown)).To(BeTrue())
		Expect(unknown.Name).To(Equal("content_block_citation"))
		Expect(msg.ID).To(Equal("msg_03"))
	})
})

// chunkedReader returns at most size bytes per Read.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.size, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}
