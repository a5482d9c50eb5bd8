// Package dispatch implements request/response over the broker: the publisher
// appends correlated envelopes, the waiter blocks until the matching response
// shows up.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

type Publisher struct {
	broker broker.Broker
	newID  func() string
}

func NewPublisher(b broker.Broker) *Publisher {
	return &Publisher{
		broker: b,
		newID:  func() string { return uuid.NewString() },
	}
}

type PublishRequest struct {
	DocumentID string
	Content    string
	Question   string
	ModelID    string
}

// Publish appends a new request envelope to the kind's request stream and
// returns its freshly minted request id. It does not wait for a worker.
func (p *Publisher) Publish(ctx context.Context, kind envelope.Kind, req PublishRequest) (string, error) {
	env := &envelope.Request{
		RequestID:  p.newID(),
		DocumentID: req.DocumentID,
		Content:    req.Content,
		Question:   req.Question,
		ModelID:    req.ModelID,
		Timestamp:  envelope.Now(),
	}

	data, err := envelope.EncodeRequest(env)
	if err != nil {
		return "", err
	}

	entryID, err := p.broker.Append(ctx, kind.RequestStream(), data)
	if err != nil {
		return "", fmt.Errorf("%w: publish %s request: %w", ErrDispatchFailed, kind, err)
	}

	slog.Debug("request published", "kind", kind, "request_id", env.RequestID, "entry_id", entryID)
	return env.RequestID, nil
}

// Respond appends a response envelope to the kind's response stream.
func (p *Publisher) Respond(ctx context.Context, kind envelope.Kind, resp *envelope.Response) error {
	if resp.Timestamp.IsZero() {
		resp.Timestamp = envelope.Now()
	}

	data, err := envelope.EncodeResponse(resp)
	if err != nil {
		return err
	}

	if _, err := p.broker.Append(ctx, kind.ResponseStream(), data); err != nil {
		return fmt.Errorf("%w: publish %s response: %w", ErrDispatchFailed, kind, err)
	}
	return nil
}
