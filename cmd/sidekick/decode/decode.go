package decodecmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/stream"
)

const decodeLongDesc string = `Decode a captured Messages API SSE body into chunks.

Reads the body from the given file, or from stdin when no file is given,
and prints one line per chunk. With --format wire each chunk is re-encoded
as its SSE frame. With --assemble the chunks are also folded into the final
message, which is printed last.

Examples:
  sidekick decode response.sse
  curl -sN ... | sidekick decode --assemble
  sidekick decode --format wire --read-size 1 response.sse`

const decodeShortDesc string = "Decode an SSE body into chunks"

type decodeCommander struct {
	format   string
	readSize int
	assemble bool
}

type chunkLine struct {
	Event stream.Kind  `json:"event"`
	Data  stream.Chunk `json:"data"`
}

type messageLine struct {
	ID         string                `json:"id"`
	Model      string                `json:"model"`
	Text       string                `json:"text"`
	ToolUses   []stream.ContentBlock `json:"tool_uses,omitempty"`
	StopReason *stream.StopReason    `json:"stop_reason"`
	Usage      stream.Usage          `json:"usage"`
}

func NewDecodeCmd() *cobra.Command {
	cmder := &decodeCommander{}

	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: decodeShortDesc,
		Long:  decodeLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("could not open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}
			return cmder.run(cmd.Context(), in, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cmder.format, "format", "f", "json", "Output format (json, wire)")
	cmd.Flags().IntVar(&cmder.readSize, "read-size", stream.DefaultReadSize, "Bytes read per fragment")
	cmd.Flags().BoolVarP(&cmder.assemble, "assemble", "a", false, "Print the assembled message after the chunks")

	return cmd
}

func (c *decodeCommander) run(ctx context.Context, in io.Reader, out io.Writer) error {
	if c.format != "json" && c.format != "wire" {
		return fmt.Errorf("unknown format %q", c.format)
	}

	s := stream.New(stream.NewReaderSource(in, c.readSize), stream.WithLogger(log.Logger))
	defer s.Close()

	assembler := processor.NewAssembler()
	enc := json.NewEncoder(out)
	count := 0

	for chunk, err := range s.All(ctx) {
		if err != nil {
			return fmt.Errorf("decode failed after %d chunks: %w", count, err)
		}
		count++

		if err := c.print(out, enc, chunk); err != nil {
			return err
		}
		if c.assemble {
			if err := assembler.Add(chunk); err != nil {
				return fmt.Errorf("could not assemble chunk %d: %w", count, err)
			}
		}
	}

	if !c.assemble {
		return nil
	}
	if !assembler.Done() {
		return fmt.Errorf("stream ended before message_stop after %d chunks", count)
	}

	msg := assembler.Message()
	return enc.Encode(messageLine{
		ID:         msg.ID,
		Model:      msg.Model,
		Text:       msg.Text(),
		ToolUses:   msg.ToolUses(),
		StopReason: msg.StopReason,
		Usage:      msg.Usage,
	})
}

func (c *decodeCommander) print(out io.Writer, enc *json.Encoder, chunk stream.Chunk) error {
	if c.format == "wire" {
		frame, err := stream.Encode(chunk)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, frame)
		return err
	}
	return enc.Encode(chunkLine{Event: chunk.Kind(), Data: chunk})
}
