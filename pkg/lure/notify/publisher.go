package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/mikepea/lure/pkg/lure/models"
)

// Ack is a publisher's delivery acknowledgement.
type Ack struct {
	Stream    string
	Sequence  uint64
	Duplicate bool
}

// Publisher delivers an accumulated payload. msgID is stable for a given
// outbound message so a broker can drop redeliveries.
type Publisher interface {
	Publish(ctx context.Context, msgID string, payload models.MessagePayload) (Ack, error)
}

// JetStreamPublisher publishes payloads as JSON to a JetStream subject.
type JetStreamPublisher struct {
	js      jetstream.JetStream
	subject string
}

// NewJetStreamPublisher ensures stream exists with subject bound to it.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, stream, subject string) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
	}

	return &JetStreamPublisher{js: js, subject: subject}, nil
}

// Publish sends payload with msgID as the JetStream deduplication id.
func (p *JetStreamPublisher) Publish(ctx context.Context, msgID string, payload models.MessagePayload) (Ack, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	pa, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return Ack{}, fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return Ack{Stream: pa.Stream, Sequence: pa.Sequence, Duplicate: pa.Duplicate}, nil
}

// LogPublisher writes payloads to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs payload and always succeeds.
func (p *LogPublisher) Publish(_ context.Context, msgID string, payload models.MessagePayload) (Ack, error) {
	p.logger.Info("outbound message",
		zap.String("msg_id", msgID),
		zap.String("tracking_link_id", payload.TrackingLinkID),
		zap.String("recipient_id", payload.RecipientID),
		zap.String("content_id", payload.ContentID),
		zap.Int("events", len(payload.Events)),
		zap.Int("interactions", len(payload.Interactions)),
		zap.Any("final_score", payload.FinalScore))
	return Ack{Stream: "log"}, nil
}
