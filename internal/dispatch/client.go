package dispatch

import (
	"context"
	"time"

	"github.com/nikhilbhutani/docstream/internal/envelope"
)

// Client pairs a publish with the wait for its response, which is what a
// request-serving handler needs.
type Client struct {
	publisher *Publisher
	waiter    *Waiter
	timeout   time.Duration
}

func NewClient(p *Publisher, w *Waiter, timeout time.Duration) *Client {
	return &Client{publisher: p, waiter: w, timeout: timeout}
}

// Call publishes req and waits for its response. The request id is returned
// even on timeout so callers can log it.
func (c *Client) Call(ctx context.Context, kind envelope.Kind, req PublishRequest) (string, *envelope.Response, error) {
	requestID, err := c.publisher.Publish(ctx, kind, req)
	if err != nil {
		return "", nil, err
	}

	resp, err := c.waiter.Wait(ctx, kind, requestID, c.timeout)
	if err != nil {
		return requestID, nil, err
	}
	return requestID, resp, nil
}
