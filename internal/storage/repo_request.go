package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RequestRecord struct {
	ID             uuid.UUID
	Timestamp      time.Time
	Method         string
	Path           string
	StatusCode     int
	Success        bool
	ErrorMessage   string
	ResponseTimeMs int
	IsStream       bool
	Model          string
	MessageCount   int
	ToolCount      int
	MaxTokens      int
}

// UsageSummary is what the processor learns from a response.
type UsageSummary struct {
	Model         string
	InputTokens   int
	OutputTokens  int
	CacheRead     int
	CacheCreation int
	StopReason    string
	StopSequence  string
	// Complete is false when the stream ended before message_stop or failed to decode.
	Complete    bool
	StreamError string
}

func (s UsageSummary) TotalTokens() int {
	return s.InputTokens + s.OutputTokens + s.CacheRead + s.CacheCreation
}

func InsertRequestJob(r *RequestRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO requests (
				id, ts, method, path, status_code, success, error_message,
				response_time_ms, is_stream, model, message_count, tool_count, max_tokens
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			r.ID, r.Timestamp, r.Method, r.Path,
			r.StatusCode, r.Success, nilIfEmpty(r.ErrorMessage),
			r.ResponseTimeMs, r.IsStream, nilIfEmpty(r.Model),
			r.MessageCount, r.ToolCount, r.MaxTokens,
		)
		return err
	})
}

func UpdateRequestUsageJob(requestID uuid.UUID, ts time.Time, s UsageSummary) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE requests SET
				model = COALESCE($1, model),
				input_tokens = $2,
				output_tokens = $3,
				cache_read_tokens = $4,
				cache_creation_tokens = $5,
				total_tokens = $6,
				stop_reason = $7,
				stop_sequence = $8,
				stream_complete = $9,
				stream_error = $10
			WHERE id = $11 AND ts = $12`,
			nilIfEmpty(s.Model), s.InputTokens, s.OutputTokens, s.CacheRead, s.CacheCreation,
			s.TotalTokens(), nilIfEmpty(s.StopReason), nilIfEmpty(s.StopSequence),
			s.Complete, nilIfEmpty(s.StreamError), requestID, ts,
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
