// Package anthropic holds the Messages API request and response documents
// that the client, proxy and processor exchange with the upstream.
package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/namikmesic/sidekick/internal/stream"
)

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"` // string OR []SystemBlock
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"` // "auto" | "any" | {"type":"tool","name":"..."}
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type Message struct {
	Role    string          `json:"role"`    // "user" | "assistant"
	Content json.RawMessage `json:"content"` // string OR []ContentBlock
}

// UserMessage builds a user turn with plain text content.
func UserMessage(text string) Message {
	return Message{Role: "user", Content: jsonString(text)}
}

// AssistantMessage builds an assistant turn with plain text content.
func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: jsonString(text)}
}

// SystemPrompt encodes a plain text system prompt.
func SystemPrompt(text string) json.RawMessage {
	return jsonString(text)
}

type SystemBlock struct {
	Type         string        `json:"type"` // "text"
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

// MessagesResponse is the body of a non-streamed response. StopReason is kept
// as reported so that reasons newer than stream.StopReason still decode.
type MessagesResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []RespBlock        `json:"content"`
	Model        string             `json:"model"`
	StopReason   *string      `json:"stop_reason"`
	StopSequence *string      `json:"stop_sequence"`
	Usage        stream.Usage `json:"usage"`
}

type RespBlock struct {
	Type     string          `json:"type"` // "text" | "tool_use" | "thinking"
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
}

// ErrorResponse is the body the API returns with a non-2xx status.
type ErrorResponse struct {
	Type  string `json:"type"` // "error"
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// RequestSummary is what the proxy records about a request body.
type RequestSummary struct {
	Model                string
	SystemPrompt         string
	MaxTokens            int
	Temperature          *float64
	TopP                 *float64
	MessageCount         int
	ToolCount            int
	ThinkingBudgetTokens int
	Stream               bool
}

// Returns zero-value RequestSummary on parse failure.
func SummarizeRequest(body []byte) RequestSummary {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return RequestSummary{}
	}

	var budget int
	if req.Thinking != nil {
		budget = req.Thinking.BudgetTokens
	}

	return RequestSummary{
		Model:                req.Model,
		SystemPrompt:         extractSystemPrompt(req.System),
		MaxTokens:            req.MaxTokens,
		Temperature:          req.Temperature,
		TopP:                 req.TopP,
		MessageCount:         len(req.Messages),
		ToolCount:            len(req.Tools),
		ThinkingBudgetTokens: budget,
		Stream:               req.Stream,
	}
}

// extractSystemPrompt handles both string and []SystemBlock forms.
func extractSystemPrompt(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []SystemBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
