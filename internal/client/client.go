// Package client opens streamed Messages API responses and exposes them as
// chunk streams.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/sidekick/internal/anthropic"
	"github.com/namikmesic/sidekick/internal/stream"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultVersion = "2023-06-01"
)

// ErrStreamOptionMismatch is returned when a request passed to
// CreateMessageStream does not ask for a streamed response.
var ErrStreamOptionMismatch = errors.New("request must set stream to true")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Type      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("anthropic api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("anthropic api: status %d: %s: %s", e.Status, e.Type, e.Message)
}

type Config struct {
	BaseURL string
	APIKey  string
	Version string
	// ReadSize is the fragment size read from the response body.
	ReadSize   int
	HTTPClient *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Streams can be long-lived, so no overall timeout.
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// CreateMessageStream sends req and returns the decoded chunk stream. The
// caller must Close the stream.
func (c *Client) CreateMessageStream(ctx context.Context, req anthropic.MessagesRequest) (*stream.Stream, error) {
	if !req.Stream {
		return nil, ErrStreamOptionMismatch
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("accept", "text/event-stream")
	httpReq.Header.Set("anthropic-version", c.cfg.Version)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	requestID := resp.Header.Get("request-id")
	logger := log.With().Str("upstream_request_id", requestID).Logger()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := decodeAPIError(resp)
		logger.Warn().Int("status", resp.StatusCode).Str("error_type", apiErr.Type).Msg("message stream rejected")
		return nil, apiErr
	}

	logger.Debug().Str("model", req.Model).Msg("message stream opened")
	return stream.New(stream.NewReaderSource(resp.Body, c.cfg.ReadSize), stream.WithLogger(logger)), nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get("request-id")}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		apiErr.Message = err.Error()
		return apiErr
	}

	var body anthropic.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Type = body.Error.Type
	apiErr.Message = body.Error.Message
	return apiErr
}
