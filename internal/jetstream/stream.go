package jetstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	StreamName    = "SIDEKICK"
	SubjectPrefix = "sidekick.req."

	// ErrorHeader carries the upstream read error on a done message.
	ErrorHeader = "Sidekick-Error"
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"sidekick.>"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func ChunkSubject(requestID string) string {
	return SubjectPrefix + requestID + ".chunk"
}

func DoneSubject(requestID string) string {
	return SubjectPrefix + requestID + ".done"
}

func requestSubjects(requestID string) string {
	return SubjectPrefix + requestID + ".*"
}

// Publisher appends the bytes of one response to its request subject.
type Publisher struct {
	js        nats.JetStreamContext
	requestID string
}

func NewPublisher(js nats.JetStreamContext, requestID string) *Publisher {
	return &Publisher{js: js, requestID: requestID}
}

// Write publishes a copy of b. Publishing is asynchronous.
func (p *Publisher) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	data := append([]byte(nil), b...)
	if _, err := p.js.PublishAsync(ChunkSubject(p.requestID), data); err != nil {
		return 0, fmt.Errorf("publish chunk: %w", err)
	}
	return len(b), nil
}

// Done terminates the subject. A non-nil readErr is forwarded to the subscriber.
func (p *Publisher) Done(readErr error) error {
	msg := nats.NewMsg(DoneSubject(p.requestID))
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		msg.Header.Set(ErrorHeader, readErr.Error())
	}
	if _, err := p.js.PublishMsgAsync(msg); err != nil {
		return fmt.Errorf("publish done: %w", err)
	}
	return nil
}

// UpstreamError is returned by Source when the publisher reported a read error.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream read failed: " + e.Message
}

// Source reads the bytes published for one request, in order, until its done
// message. It implements stream.Source.
type Source struct {
	sub *nats.Subscription
}

func Subscribe(js nats.JetStreamContext, requestID string) (*Source, error) {
	sub, err := js.SubscribeSync(requestSubjects(requestID), nats.DeliverAll(), nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", requestID, err)
	}
	return &Source{sub: sub}, nil
}

func (s *Source) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := msg.Ack(); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("ack failed")
	}

	if strings.HasSuffix(msg.Subject, ".done") {
		if text := msg.Header.Get(ErrorHeader); text != "" {
			return nil, &UpstreamError{Message: text}
		}
		return nil, io.EOF
	}
	return msg.Data, nil
}

func (s *Source) Close() error {
	return s.sub.Unsubscribe()
}
