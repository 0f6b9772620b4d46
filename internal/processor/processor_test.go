package processor_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/storage"
	"github.com/namikmesic/sidekick/internal/stream"
)

type recordingWriter struct {
	mu   sync.Mutex
	jobs []storage.WriteJob
}

func (w *recordingWriter) Enqueue(job storage.WriteJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	return true
}

var _ = Describe("Summarize", func() {
	It("reports a complete message", func() {
		msg, err := processor.Collect(context.Background(), stream.New(stream.StringSource(toolConversation)))
		Expect(err).NotTo(HaveOccurred())

		Expect(processor.Summarize(msg, nil)).To(Equal(storage.UsageSummary{
			Model:        "claude-3-5-sonnet-20241022",
			InputTokens:  40,
			OutputTokens: 25,
			CacheRead:    12,
			StopReason:   "tool_use",
			Complete:     true,
		}))
	})

	It("keeps the stream error", func() {
		s := processor.Summarize(processor.Message{Model: "m"}, errors.New("boom"))
		Expect(s.Complete).To(BeFalse())
		Expect(s.StreamError).To(Equal("boom"))
		Expect(s.StopReason).To(BeEmpty())
	})
})

var _ = Describe("Processor", func() {
	var (
		w  *recordingWriter
		p  *processor.Processor
		id uuid.UUID
		ts time.Time
	)

	BeforeEach(func() {
		w = &recordingWriter{}
		p = processor.New(w)
		id = uuid.New()
		ts = time.Now()
	})

	Describe("ProcessStream", func() {
		It("records usage and content blocks", func() {
			p.ProcessStream(context.Background(), id, ts, stream.StringSource(toolConversation))
			Expect(w.jobs).To(HaveLen(2))
		})

		It("records usage for a failed stream", func() {
			src := stream.SourceFunc(func(ctx context.Context) ([]byte, error) {
				return nil, io.ErrUnexpectedEOF
			})
			p.ProcessStream(context.Background(), id, ts, src)
			Expect(w.jobs).To(HaveLen(1))
		})

		It("records an incomplete summary for an empty stream", func() {
			p.ProcessStream(context.Background(), id, ts, stream.StringSource())
			Expect(w.jobs).To(HaveLen(1))
		})
	})

	Describe("ProcessNonStream", func() {
		It("records usage and content blocks", func() {
			body := []byte(`{"id":"msg_01","type":"message","role":"assistant","model":"m",
				"content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Hi"}],
				"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":4}}`)
			p.ProcessNonStream(id, ts, body)
			Expect(w.jobs).To(HaveLen(2))
		})

		It("records responses whose stop reason the stream decoder does not know", func() {
			body := []byte(`{"id":"msg_03","type":"message","role":"assistant","model":"m",
				"content":[{"type":"text","text":"..."}],
				"stop_reason":"refusal","stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}`)
			p.ProcessNonStream(id, ts, body)
			Expect(w.jobs).To(HaveLen(2))
		})

		It("ignores bodies that are not messages", func() {
			p.ProcessNonStream(id, ts, []byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			p.ProcessNonStream(id, ts, []byte(`not json`))
			Expect(w.jobs).To(BeEmpty())
		})
	})
})
