package chatcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/namikmesic/sidekick/internal/anthropic"
	"github.com/namikmesic/sidekick/internal/client"
	"github.com/namikmesic/sidekick/internal/config"
	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/stream"
)

const chatLongDesc string = `Send one prompt to the Messages API and stream the reply.

Text is printed as it arrives. Tool calls requested by the model are
printed once their input is complete. Usage is logged at the end.

The API key, base URL and defaults are read from the environment
(ANTHROPIC_API_KEY, ANTHROPIC_UPSTREAM_URL, ANTHROPIC_MODEL). Point
ANTHROPIC_UPSTREAM_URL at a running "sidekick serve" to record the call.

Examples:
  sidekick chat "Why is the sky blue?"
  sidekick chat --model claude-3-haiku-20240307 --system "Be terse." hello`

const chatShortDesc string = "Stream a reply to a prompt"

type chatCommander struct {
	model     string
	maxTokens int
	system    string
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cmder.model == "" {
				cmder.model = cfg.Model
			}
			if cmder.maxTokens <= 0 {
				cmder.maxTokens = cfg.MaxTokens
			}
			c := client.New(client.Config{
				BaseURL:  cfg.AnthropicBaseURL,
				APIKey:   cfg.AnthropicAPIKey,
				Version:  cfg.AnthropicVersion,
				ReadSize: cfg.StreamReadSize,
			})
			return cmder.run(cmd.Context(), c, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cmder.model, "model", "m", "", "Model to use (default from ANTHROPIC_MODEL)")
	cmd.Flags().IntVar(&cmder.maxTokens, "max-tokens", 0, "Maximum tokens to generate (default from ANTHROPIC_MAX_TOKENS)")
	cmd.Flags().StringVarP(&cmder.system, "system", "s", "", "System prompt")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cl *client.Client, prompt string, out io.Writer) error {
	req := anthropic.MessagesRequest{
		Model:     c.model,
		Messages:  []anthropic.Message{anthropic.UserMessage(prompt)},
		MaxTokens: c.maxTokens,
		Stream:    true,
	}
	if c.system != "" {
		req.System = anthropic.SystemPrompt(c.system)
	}

	s, err := cl.CreateMessageStream(ctx, req)
	if err != nil {
		return fmt.Errorf("could not start message stream: %w", err)
	}
	defer s.Close()

	assembler := processor.NewAssembler()
	for chunk, err := range s.All(ctx) {
		if err != nil {
			return fmt.Errorf("stream failed: %w", err)
		}
		if err := assembler.Add(chunk); err != nil {
			return fmt.Errorf("unexpected chunk: %w", err)
		}

		switch chunk := chunk.(type) {
		case stream.ContentBlockDelta:
			if chunk.Delta.Type == stream.DeltaText {
				fmt.Fprint(out, chunk.Delta.Text)
			}
		case stream.ContentBlockStop:
			if block, ok := assembler.Block(chunk.Index); ok && block.Type == stream.BlockToolUse {
				fmt.Fprintf(out, "\n[tool_use %s %s]\n", block.Name, block.Input)
			}
		}
	}
	fmt.Fprintln(out)

	if !assembler.Done() {
		return errors.New("stream ended before message_stop")
	}

	msg := assembler.Message()
	event := log.Info().
		Str("message_id", msg.ID).
		Str("model", msg.Model).
		Int("input_tokens", msg.Usage.InputTokens).
		Int("output_tokens", msg.Usage.OutputTokens)
	if msg.StopReason != nil {
		event = event.Str("stop_reason", string(*msg.StopReason))
	}
	event.Msg("message complete")
	return nil
}
