package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/namikmesic/sidekick/internal/stream"
)

// InsertContentBlocksJob creates a batch insert job for the assembled content
// blocks of one response using COPY protocol.
func InsertContentBlocksJob(requestID uuid.UUID, ts time.Time, blocks []stream.ContentBlock) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"content_blocks"},
			[]string{"ts", "request_id", "block_index", "block_type", "text", "tool_id", "tool_name", "tool_input"},
			pgx.CopyFromRows(contentBlockRows(requestID, ts, blocks)),
		)
		return err
	})
}

func contentBlockRows(requestID uuid.UUID, ts time.Time, blocks []stream.ContentBlock) [][]any {
	rows := make([][]any, len(blocks))
	for i, b := range blocks {
		var input []byte
		if b.Type == stream.BlockToolUse {
			input = b.Input
		}
		rows[i] = []any{
			ts,
			requestID,
			i,
			string(b.Type),
			nilIfEmpty(b.Text),
			nilIfEmpty(b.ID),
			nilIfEmpty(b.Name),
			nilIfEmptyBytes(input),
		}
	}
	return rows
}
