package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/sidekick/internal/anthropic"
	"github.com/namikmesic/sidekick/internal/config"
	"github.com/namikmesic/sidekick/internal/jetstream"
	"github.com/namikmesic/sidekick/internal/processor"
	"github.com/namikmesic/sidekick/internal/storage"
	"github.com/namikmesic/sidekick/internal/stream"
)

// mirror receives a copy of a streamed response body. Done ends it, carrying
// the read error that stopped the body, if any.
type mirror interface {
	io.Writer
	Done(readErr error) error
}

// Handler is the core reverse proxy.
type Handler struct {
	cfg       *config.Config
	upstream  *url.URL
	client    *http.Client
	writer    processor.Enqueuer
	processor *processor.Processor
	// openMirror is nil when responses are mirrored in-process instead of through JetStream.
	openMirror func(requestID string) (mirror, stream.Source, error)
}

func NewHandler(cfg *config.Config, writer processor.Enqueuer, proc *processor.Processor, js nats.JetStreamContext) (*Handler, error) {
	upstream, err := parseUpstream(cfg.AnthropicBaseURL)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:      cfg,
		upstream: upstream,
		client: &http.Client{
			// No timeout, streaming responses can be long-lived
			Timeout: 0,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		writer:    writer,
		processor: proc,
	}
	if js != nil {
		h.openMirror = func(requestID string) (mirror, stream.Source, error) {
			src, err := jetstream.Subscribe(js, requestID)
			if err != nil {
				return nil, nil, err
			}
			return jetstream.NewPublisher(js, requestID), src, nil
		}
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New()
	ts := time.Now()
	start := ts

	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			log.Error().Err(err).Msg("failed to read request body")
			http.Error(w, "failed to read request body", http.StatusBadGateway)
			return
		}
	}

	summary := anthropic.SummarizeRequest(reqBody)

	targetURL := targetURL(h.upstream, r.URL.Path, r.URL.RawQuery)
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(reqBody))
	if err != nil {
		log.Error().Err(err).Msg("failed to create upstream request")
		http.Error(w, "failed to create upstream request", http.StatusBadGateway)
		return
	}

	upstreamReq.Header = prepareUpstreamHeaders(r.Header, h.cfg.AnthropicAPIKey, h.cfg.AnthropicVersion)

	record := &storage.RequestRecord{
		ID:           requestID,
		Timestamp:    ts,
		Method:       r.Method,
		Path:         r.URL.Path,
		Model:        summary.Model,
		MessageCount: summary.MessageCount,
		ToolCount:    summary.ToolCount,
		MaxTokens:    summary.MaxTokens,
	}

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		log.Error().Err(err).Str("url", targetURL).Msg("upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)

		record.StatusCode = http.StatusBadGateway
		record.ErrorMessage = err.Error()
		record.ResponseTimeMs = int(time.Since(start).Milliseconds())
		h.writer.Enqueue(storage.InsertRequestJob(record))
		return
	}
	defer resp.Body.Close()

	isStreaming := isStreamingResponse(resp)

	record.StatusCode = resp.StatusCode
	record.Success = resp.StatusCode >= 200 && resp.StatusCode < 400
	record.ResponseTimeMs = int(time.Since(start).Milliseconds())
	record.IsStream = isStreaming
	h.writer.Enqueue(storage.InsertRequestJob(record))

	for k, vv := range prepareClientHeaders(resp.Header) {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}

	if isStreaming {
		h.handleStreaming(w, resp, requestID, ts)
	} else {
		h.handleNonStreaming(w, resp, requestID, ts)
	}

	log.Info().
		Str("request_id", requestID.String()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("model", summary.Model).
		Int("status", resp.StatusCode).
		Bool("stream", isStreaming).
		Dur("duration", time.Since(start)).
		Msg("proxied request")
}

// handleStreaming relays the SSE body to the client and hands the same bytes
// to the processor, through JetStream when available and an in-process pipe
// otherwise.
func (h *Handler) handleStreaming(w http.ResponseWriter, resp *http.Response, requestID uuid.UUID, ts time.Time) {
	w.WriteHeader(resp.StatusCode)

	if h.openMirror == nil {
		body, src := stream.Tee(resp.Body, h.cfg.StreamReadSize)
		go h.processor.ProcessStream(context.Background(), requestID, ts, src)
		defer body.Close()

		if err := relay(w, body, nil); err != nil {
			log.Warn().Err(err).Str("request_id", requestID.String()).Msg("upstream stream interrupted")
		}
		return
	}

	id := requestID.String()
	pub, src, err := h.openMirror(id)
	if err != nil {
		log.Error().Err(err).Str("request_id", id).Msg("failed to subscribe to response subject")
		if err := relay(w, resp.Body, nil); err != nil {
			log.Warn().Err(err).Str("request_id", id).Msg("upstream stream interrupted")
		}
		return
	}

	// The processor is cancelled if the subject cannot be terminated, since
	// its source would otherwise wait for a done message that never comes.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		h.processor.ProcessStream(ctx, requestID, ts, src)
	}()

	readErr := relay(w, resp.Body, pub)
	if readErr != nil {
		log.Warn().Err(readErr).Str("request_id", id).Msg("upstream stream interrupted")
	}
	if err := pub.Done(readErr); err != nil {
		log.Error().Err(err).Str("request_id", id).Msg("failed to terminate response subject")
		cancel()
	}
}

func (h *Handler) handleNonStreaming(w http.ResponseWriter, resp *http.Response, requestID uuid.UUID, ts time.Time) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("failed to read response body")
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		go h.processor.ProcessNonStream(requestID, ts, respBody)
	}
}

// relay copies body to w, flushing after every read, and mirrors each read
// into mirror when it is non-nil. A failing mirror is dropped. It returns the
// read error that ended the body, or nil at io.EOF.
func relay(w http.ResponseWriter, body io.Reader, mirror io.Writer) error {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if mirror != nil {
				if _, merr := mirror.Write(buf[:n]); merr != nil {
					log.Warn().Err(merr).Msg("response mirror failed")
					mirror = nil
				}
			}
			w.Write(buf[:n])
			if canFlush {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "text/event-stream")
}
