package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/sidekick/internal/anthropic"
	"github.com/namikmesic/sidekick/internal/storage"
	"github.com/namikmesic/sidekick/internal/stream"
)

// Enqueuer accepts write jobs. *storage.BatchWriter satisfies it.
type Enqueuer interface {
	Enqueue(job storage.WriteJob) bool
}

// Processor handles background analytics for proxied requests.
type Processor struct {
	writer Enqueuer
}

func New(writer Enqueuer) *Processor {
	return &Processor{writer: writer}
}

// ProcessStream decodes the chunks read from src, assembles the response and
// records its usage and content. A stream that fails to decode is still
// recorded with whatever was assembled before the failure.
func (p *Processor) ProcessStream(ctx context.Context, requestID uuid.UUID, ts time.Time, src stream.Source) {
	logger := log.With().Str("request_id", requestID.String()).Logger()

	s := stream.New(src, stream.WithLogger(logger))
	defer s.Close()

	msg, err := Collect(ctx, s)
	if err != nil {
		logger.Warn().Err(err).Msg("stream decode incomplete")
	}

	summary := Summarize(msg, err)
	p.record(requestID, ts, summary, msg.Content)

	logger.Debug().
		Int("content_blocks", len(msg.Content)).
		Str("model", summary.Model).
		Int("input_tokens", summary.InputTokens).
		Int("output_tokens", summary.OutputTokens).
		Str("stop_reason", summary.StopReason).
		Bool("complete", summary.Complete).
		Msg("stream processing complete")
}

// ProcessNonStream handles a non-streaming response body.
func (p *Processor) ProcessNonStream(requestID uuid.UUID, ts time.Time, body []byte) {
	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Debug().Err(err).Str("request_id", requestID.String()).Msg("response body is not a message")
		return
	}
	if resp.Model == "" {
		return
	}

	msg := Message{
		ID:           resp.ID,
		Model:        resp.Model,
		Role:         resp.Role,
		Content:      contentBlocks(resp.Content),
		StopReason:   (*stream.StopReason)(resp.StopReason),
		StopSequence: resp.StopSequence,
		Usage:        resp.Usage,
	}
	p.record(requestID, ts, Summarize(msg, nil), msg.Content)
}

func (p *Processor) record(requestID uuid.UUID, ts time.Time, summary storage.UsageSummary, blocks []stream.ContentBlock) {
	if summary.Model == "" && summary.TotalTokens() == 0 && summary.StreamError == "" {
		return
	}
	p.writer.Enqueue(storage.UpdateRequestUsageJob(requestID, ts, summary))
	if len(blocks) > 0 {
		p.writer.Enqueue(storage.InsertContentBlocksJob(requestID, ts, blocks))
	}
}

// Summarize reduces an assembled message and the error that ended its
// stream, if any, to the usage row stored for the request.
func Summarize(msg Message, err error) storage.UsageSummary {
	s := storage.UsageSummary{
		Model:         msg.Model,
		InputTokens:   msg.Usage.InputTokens,
		OutputTokens:  msg.Usage.OutputTokens,
		CacheRead:     msg.Usage.CacheReadInputTokens,
		CacheCreation: msg.Usage.CacheCreationInputTokens,
		Complete:      err == nil,
	}
	if msg.StopReason != nil {
		s.StopReason = string(*msg.StopReason)
	}
	if msg.StopSequence != nil {
		s.StopSequence = *msg.StopSequence
	}
	if err != nil {
		s.StreamError = err.Error()
	}
	return s
}

// contentBlocks keeps the text and tool_use blocks of a non-streamed response.
func contentBlocks(blocks []anthropic.RespBlock) []stream.ContentBlock {
	var out []stream.ContentBlock
	for _, b := range blocks {
		switch stream.BlockType(b.Type) {
		case stream.BlockText:
			out = append(out, stream.TextBlock(b.Text))
		case stream.BlockToolUse:
			out = append(out, stream.ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}
	return out
}
